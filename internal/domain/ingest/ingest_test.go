package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/yieldboard/internal/domain/dedupe"
	"github.com/okian/yieldboard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var window = model.Window{
	Start: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
}

type memStore struct {
	mu      sync.Mutex
	recs    map[string]model.ContributionRecord
	failing bool
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]model.ContributionRecord{}}
}

func (m *memStore) SaveContributions(_ context.Context, recs []model.ContributionRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return 0, errors.New("disk full")
	}
	n := 0
	for _, r := range recs {
		k := dedupe.Key(r.AccountID, r.DedupKey)
		if _, ok := m.recs[k]; ok {
			continue
		}
		m.recs[k] = r
		n++
	}
	return n, nil
}

func (m *memStore) ListContributions(_ context.Context, accountID string, w model.Window) ([]model.ContributionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ContributionRecord
	for _, r := range m.recs {
		if r.AccountID == accountID && w.Contains(r.SourceTime) {
			out = append(out, r)
		}
	}
	return out, nil
}

type scriptedSource struct {
	mu       sync.Mutex
	failures int
	calls    int
	recs     []model.ContributionRecord
}

func (s *scriptedSource) Fetch(context.Context, string, model.Window) ([]model.ContributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("timeout")
	}
	return s.recs, nil
}

func rec(account, key string) model.ContributionRecord {
	return model.ContributionRecord{
		AccountID:  account,
		Kind:       model.KindMergedChange,
		Weight:     1,
		SourceTime: window.Start.Add(time.Hour),
		DedupKey:   key,
	}
}

func TestIngest(t *testing.T) {
	Convey("Given a source with replays and foreign records", t, func() {
		src := &scriptedSource{recs: []model.ContributionRecord{
			rec("a", "pr-1"), rec("a", "pr-2"), rec("a", "pr-1"), rec("b", "pr-3"), rec("a", ""),
		}}
		store := newMemStore()
		ing := New(src, store, WithAttempts(3, time.Millisecond))
		ctx := context.Background()

		Convey("When ingesting the account", func() {
			res, err := ing.Ingest(ctx, "a", "", window)

			Convey("Then each record is stored once", func() {
				So(err, ShouldBeNil)
				So(res.Fetched, ShouldEqual, 5)
				So(res.Stored, ShouldEqual, 2)
				So(res.Duplicates, ShouldEqual, 1)
				So(res.Foreign, ShouldEqual, 1)
				So(res.Malformed, ShouldEqual, 1)
				So(res.Records, ShouldHaveLength, 2)
				So(res.Gap, ShouldBeFalse)
			})

			Convey("And ingesting again stores nothing new", func() {
				again, err := ing.Ingest(ctx, "a", "", window)
				So(err, ShouldBeNil)
				So(again.Stored, ShouldEqual, 0)
				So(again.Records, ShouldHaveLength, 2)
			})
		})

		Convey("When a fresh ingester replays after a restart", func() {
			_, err := ing.Ingest(ctx, "a", "", window)
			So(err, ShouldBeNil)
			restarted := New(src, store, WithAttempts(1, time.Millisecond))
			res, err := restarted.Ingest(ctx, "a", "", window)

			Convey("Then the store still rejects the replays", func() {
				So(err, ShouldBeNil)
				So(res.Stored, ShouldEqual, 0)
				So(res.Duplicates, ShouldEqual, 3)
			})
		})
	})

	Convey("Given a flaky source", t, func() {
		src := &scriptedSource{failures: 2, recs: []model.ContributionRecord{rec("a", "pr-1")}}
		ing := New(src, newMemStore(), WithAttempts(3, time.Millisecond))

		Convey("When it recovers within the attempt budget", func() {
			res, err := ing.Ingest(context.Background(), "a", "", window)

			Convey("Then the records arrive", func() {
				So(err, ShouldBeNil)
				So(src.calls, ShouldEqual, 3)
				So(res.Stored, ShouldEqual, 1)
				So(res.Gap, ShouldBeFalse)
			})
		})
	})

	Convey("Given a source that stays down", t, func() {
		store := newMemStore()
		_, _ = store.SaveContributions(context.Background(), []model.ContributionRecord{rec("a", "old-1")})
		src := &scriptedSource{failures: 100}
		ing := New(src, store, WithAttempts(2, time.Millisecond))

		Convey("When ingesting", func() {
			res, err := ing.Ingest(context.Background(), "a", "", window)

			Convey("Then the gap is reported and stored records are returned", func() {
				So(err, ShouldBeNil)
				So(res.Gap, ShouldBeTrue)
				So(src.calls, ShouldEqual, 2)
				So(res.Records, ShouldHaveLength, 1)
			})
		})
	})

	Convey("Given a failing store", t, func() {
		store := newMemStore()
		store.failing = true
		d := dedupe.NewInMemoryDeduper()
		src := &scriptedSource{recs: []model.ContributionRecord{rec("a", "pr-1")}}
		ing := New(src, store, WithDeduper(d))

		Convey("When ingesting", func() {
			_, err := ing.Ingest(context.Background(), "a", "", window)

			Convey("Then the error surfaces and the keys can be retried", func() {
				So(err, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)

				store.failing = false
				res, err := ing.Ingest(context.Background(), "a", "", window)
				So(err, ShouldBeNil)
				So(res.Stored, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ing := New(&scriptedSource{failures: 100}, newMemStore(), WithAttempts(5, time.Millisecond))
		_, err := ing.Ingest(ctx, "a", "", window)
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})
}

// subjectSource answers for whatever subject it is asked about.
type subjectSource struct {
	mu    sync.Mutex
	asked []string
}

func (s *subjectSource) Fetch(_ context.Context, subject string, _ model.Window) ([]model.ContributionRecord, error) {
	s.mu.Lock()
	s.asked = append(s.asked, subject)
	s.mu.Unlock()
	return []model.ContributionRecord{rec(subject, "pr-1"), rec("someone-else", "pr-2")}, nil
}

func TestIngestLinkedIdentity(t *testing.T) {
	Convey("Given an account linked to an external identity", t, func() {
		src := &subjectSource{}
		ing := New(src, newMemStore(), WithAttempts(1, time.Millisecond))

		Convey("When it is ingested", func() {
			res, err := ing.Ingest(context.Background(), "a", "gh:alice", window)

			Convey("Then the source is asked for the identity and records land on the account", func() {
				So(err, ShouldBeNil)
				So(src.asked, ShouldResemble, []string{"gh:alice"})
				So(res.Stored, ShouldEqual, 1)
				So(res.Foreign, ShouldEqual, 1)
				So(res.Records, ShouldHaveLength, 1)
				So(res.Records[0].AccountID, ShouldEqual, "a")
			})
		})

		Convey("When it is ingested without a link", func() {
			_, err := ing.Ingest(context.Background(), "a", "", window)
			So(err, ShouldBeNil)
			So(src.asked, ShouldResemble, []string{"a"})
		})
	})
}
