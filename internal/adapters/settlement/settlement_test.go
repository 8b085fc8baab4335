package settlement_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/yieldboard/internal/adapters/settlement"
	domain "github.com/okian/yieldboard/internal/domain/settlement"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func req(key, account, amount string) domain.Request {
	return domain.Request{
		Key:       key,
		Kind:      domain.KindPayout,
		AccountID: account,
		EpochID:   1,
		Amount:    decimal.RequireFromString(amount),
	}
}

func TestMemory(t *testing.T) {
	Convey("Given an in-memory settlement ledger", t, func() {
		ctx := context.Background()
		m := settlement.NewMemory()

		Convey("When the same key is submitted twice", func() {
			r1, err1 := m.Submit(ctx, req("epoch:1:A", "A", "1.5"))
			r2, err2 := m.Submit(ctx, req("epoch:1:A", "A", "1.5"))

			Convey("Then it should pay once and return the same receipt", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(r2.Reference, ShouldEqual, r1.Reference)
				So(m.Paid("A").String(), ShouldEqual, "1.5")
				So(m.Calls(), ShouldEqual, 2)
			})
		})

		Convey("When a key is re-sent with a different amount", func() {
			_, _ = m.Submit(ctx, req("epoch:1:A", "A", "1.5"))
			_, err := m.Submit(ctx, req("epoch:1:A", "A", "2"))

			Convey("Then it should be rejected", func() {
				So(errors.Is(err, domain.ErrRejected), ShouldBeTrue)
				So(m.Paid("A").String(), ShouldEqual, "1.5")
			})
		})

		Convey("When faults are injected", func() {
			m.WithFault(func(r domain.Request, attempt int) error {
				if attempt <= 2 {
					return domain.ErrRetryable
				}
				return nil
			})
			_, err1 := m.Submit(ctx, req("k", "A", "1"))
			_, err2 := m.Submit(ctx, req("k", "A", "1"))
			_, err3 := m.Submit(ctx, req("k", "A", "1"))
			_, found, _ := m.Status(ctx, "k")

			Convey("Then the third attempt should confirm", func() {
				So(errors.Is(err1, domain.ErrRetryable), ShouldBeTrue)
				So(errors.Is(err2, domain.ErrRetryable), ShouldBeTrue)
				So(err3, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(m.Attempts("k"), ShouldEqual, 3)
				So(m.Paid("A").String(), ShouldEqual, "1")
			})
		})

		Convey("When concurrent submissions race on a key", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = m.Submit(ctx, req("race", "B", "3"))
				}()
			}
			wg.Wait()

			So(m.Paid("B").String(), ShouldEqual, "3")
		})
	})
}

func TestHTTPClient(t *testing.T) {
	Convey("Given a settlement service", t, func() {
		ctx := context.Background()
		var mu sync.Mutex
		seen := map[string]domain.Receipt{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/settlements":
				var in domain.Request
				_ = json.NewDecoder(r.Body).Decode(&in)
				switch {
				case in.AccountID == "bad":
					http.Error(w, "unknown account", http.StatusUnprocessableEntity)
				case in.AccountID == "flaky":
					http.Error(w, "upstream timeout", http.StatusBadGateway)
				case in.AccountID == "slow":
					time.Sleep(200 * time.Millisecond)
				default:
					rc := domain.Receipt{Key: in.Key, Reference: "tx-" + in.AccountID, State: domain.StateConfirmed}
					seen[in.Key] = rc
					_ = json.NewEncoder(w).Encode(rc)
				}
			case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/settlements/"):
				rc, ok := seen[strings.TrimPrefix(r.URL.Path, "/settlements/")]
				if !ok {
					http.NotFound(w, r)
					return
				}
				_ = json.NewEncoder(w).Encode(rc)
			}
		}))
		defer srv.Close()
		c := settlement.NewHTTPClient(srv.URL, 100*time.Millisecond)

		Convey("When a transfer is confirmed", func() {
			rc, err := c.Submit(ctx, req("epoch:1:A", "A", "1.767123"))
			st, found, serr := c.Status(ctx, "epoch:1:A")

			Convey("Then the receipt and status should agree", func() {
				So(err, ShouldBeNil)
				So(rc.Reference, ShouldEqual, "tx-A")
				So(serr, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(st.State, ShouldEqual, domain.StateConfirmed)
			})
		})

		Convey("When the service rejects or fails", func() {
			_, rejected := c.Submit(ctx, req("epoch:1:bad", "bad", "1"))
			_, flaky := c.Submit(ctx, req("epoch:1:flaky", "flaky", "1"))
			_, slow := c.Submit(ctx, req("epoch:1:slow", "slow", "1"))

			Convey("Then errors should be classified", func() {
				So(errors.Is(rejected, domain.ErrRejected), ShouldBeTrue)
				So(rejected.Error(), ShouldContainSubstring, "unknown account")
				So(errors.Is(flaky, domain.ErrRetryable), ShouldBeTrue)
				So(errors.Is(slow, domain.ErrRetryable), ShouldBeTrue)
			})
		})

		Convey("When asking about an unknown key", func() {
			_, found, err := c.Status(ctx, "epoch:9:nobody")

			So(err, ShouldBeNil)
			So(found, ShouldBeFalse)
		})
	})
}
