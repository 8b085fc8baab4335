package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	settlementadapter "github.com/okian/yieldboard/internal/adapters/settlement"
	"github.com/okian/yieldboard/internal/app/scheduler"
	"github.com/okian/yieldboard/internal/config"
	"github.com/okian/yieldboard/internal/domain/leaderboard"
	"github.com/okian/yieldboard/internal/domain/ledger"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/internal/domain/settlement"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

type recordsPerAccount map[string]int

func (r recordsPerAccount) Fetch(_ context.Context, accountID string, w model.Window) ([]model.ContributionRecord, error) {
	out := make([]model.ContributionRecord, 0, r[accountID])
	for i := 0; i < r[accountID]; i++ {
		out = append(out, model.ContributionRecord{
			AccountID:  accountID,
			Kind:       model.KindMergedChange,
			Weight:     1,
			SourceTime: w.Start.Add(time.Duration(i+1) * time.Hour),
			DedupKey:   accountID + "-" + strconv.FormatInt(w.Start.Unix(), 10) + "-" + strconv.Itoa(i),
		})
	}
	return out, nil
}

func newTestService(src recordsPerAccount, settler *settlementadapter.Memory) (*Service, *time.Time) {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.QueueSize = 16
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 2 * time.Millisecond
	cfg.MaxSettlementAttempts = 3

	genesis, _ := cfg.Genesis()
	now := genesis.Add(time.Hour)
	svc := New(cfg,
		WithActivitySource(src),
		WithSettler(settler),
		WithClock(func() time.Time { return now }),
	)
	return svc, &now
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service that has not been started", t, func() {
		svc, _ := newTestService(recordsPerAccount{}, settlementadapter.NewMemory())
		ctx := context.Background()

		Convey("Then operations report that it is not started", func() {
			_, err := svc.Stake(ctx, "A", amount("1"))
			So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
			_, err = svc.Leaderboard(ctx, nil, 10)
			So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When it is started twice and stopped twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			stats := svc.GetStats()
			svc.Stop(ctx)
			svc.Stop(ctx)

			Convey("Then stats were reported while running", func() {
				So(stats["started"], ShouldEqual, true)
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["accounts"], ShouldEqual, int64(0))
			})
		})
	})
}

func TestServiceStaking(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc, _ := newTestService(recordsPerAccount{}, settlementadapter.NewMemory())
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { svc.Stop(ctx) })

		Convey("When B stakes 500 and unstakes everything inside the lock period", func() {
			bal, err := svc.Stake(ctx, "B", amount("500"))
			So(err, ShouldBeNil)
			So(bal.Balance.String(), ShouldEqual, "500")
			So(bal.LockUntil, ShouldNotBeNil)

			rel, err := svc.Unstake(ctx, "B", amount("500"))

			Convey("Then the penalty is withheld and a withdrawal is queued", func() {
				So(err, ShouldBeNil)
				So(rel.Released.String(), ShouldEqual, "492.5")
				So(rel.Penalty.String(), ShouldEqual, "7.5")
				So(rel.Balance.IsZero(), ShouldBeTrue)
				So(rel.WithdrawalID, ShouldNotBeEmpty)

				history, err := svc.History(ctx, "B")
				So(err, ShouldBeNil)
				So(history, ShouldHaveLength, 2)
				So(history[1].Kind, ShouldEqual, "unstake")
				So(history[1].Penalty.String(), ShouldEqual, "7.5")
			})
		})

		Convey("When input is invalid", func() {
			_, err := svc.Stake(ctx, "A", amount("-1"))
			So(errors.Is(err, ledger.ErrInvalidAmount), ShouldBeTrue)

			_, err = svc.Unstake(ctx, "A", amount("1"))
			So(errors.Is(err, ledger.ErrInsufficientBalance), ShouldBeTrue)

			_, err = svc.Balance(ctx, "nobody")
			So(errors.Is(err, ledger.ErrUnknownAccount), ShouldBeTrue)

			_, err = svc.History(ctx, "nobody")
			So(errors.Is(err, ledger.ErrUnknownAccount), ShouldBeTrue)
		})
	})
}

func TestServiceEpochs(t *testing.T) {
	Convey("Given stakers with contributions in epoch 1", t, func() {
		settler := settlementadapter.NewMemory()
		svc, now := newTestService(recordsPerAccount{"A": 10, "C": 3, "gh:carol": 7}, settler)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { svc.Stop(ctx) })

		_, err := svc.Stake(ctx, "A", amount("1000"))
		So(err, ShouldBeNil)
		_, err = svc.Stake(ctx, "C", amount("1000"))
		So(err, ShouldBeNil)

		Convey("When nothing has closed yet", func() {
			_, err := svc.Leaderboard(ctx, nil, 10)
			So(errors.Is(err, ErrNoClosedEpoch), ShouldBeTrue)

			_, err = svc.RunEpoch(ctx, 1)
			So(errors.Is(err, scheduler.ErrEpochNotElapsed), ShouldBeTrue)
		})

		Convey("When epoch 1 has elapsed and is run", func() {
			*now = now.Add(14 * 24 * time.Hour)
			report, err := svc.RunEpoch(ctx, 1)
			So(err, ShouldBeNil)
			So(report.Accounts, ShouldEqual, 2)
			So(report.Confirmed, ShouldEqual, 2)

			Convey("Then the leaderboard ranks by score", func() {
				entries, err := svc.Leaderboard(ctx, nil, 10)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].AccountID, ShouldEqual, "A")
				So(entries[0].Rank, ShouldEqual, 1)
				So(entries[0].EpochID, ShouldEqual, uint64(1))
				So(entries[1].AccountID, ShouldEqual, "C")

				epoch := uint64(1)
				rank, err := svc.Rank(ctx, "C", &epoch)
				So(err, ShouldBeNil)
				So(rank.Rank, ShouldEqual, 2)

				_, err = svc.Rank(ctx, "nobody", nil)
				So(errors.Is(err, leaderboard.ErrNotRanked), ShouldBeTrue)
			})

			Convey("Then the stored scores and the epoch report are readable", func() {
				sc, err := svc.Score(ctx, "A", nil)
				So(err, ShouldBeNil)
				So(sc.EpochID, ShouldEqual, uint64(1))
				So(sc.Score.String(), ShouldEqual, "10")
				So(sc.Counted, ShouldEqual, 10)
				So(sc.Balance.String(), ShouldEqual, "1000")

				_, err = svc.Score(ctx, "nobody", nil)
				So(errors.Is(err, ErrNoScore), ShouldBeTrue)

				r, err := svc.EpochReport(ctx, 1)
				So(err, ShouldBeNil)
				So(r.Stage, ShouldEqual, string(model.StageDistributed))
				So(r.Accounts, ShouldEqual, 2)
				So(r.Confirmed, ShouldEqual, 2)

				_, err = svc.EpochReport(ctx, 5)
				So(errors.Is(err, ErrEpochNotRun), ShouldBeTrue)
			})

			Convey("Then the payouts are confirmed", func() {
				payouts, err := svc.Payouts(ctx, "A")
				So(err, ShouldBeNil)
				So(payouts, ShouldHaveLength, 1)
				So(payouts[0].Total.String(), ShouldEqual, "1.767123")
				So(payouts[0].Status, ShouldEqual, string(model.StatusConfirmed))
				So(settler.Paid("C").String(), ShouldEqual, "1.067123")

				stats := svc.GetStats()
				So(stats["lastDistributedEpoch"], ShouldEqual, uint64(1))
				So(stats["payouts"].(map[string]int64)["confirmed"], ShouldEqual, int64(2))
			})
		})

		Convey("When settlement rejects every transfer", func() {
			settler.WithFault(func(settlement.Request, int) error { return settlement.ErrRejected })
			*now = now.Add(14 * 24 * time.Hour)
			report, err := svc.RunEpoch(ctx, 1)
			So(err, ShouldBeNil)
			So(report.Terminal, ShouldEqual, 2)

			Convey("Then both payouts wait in the review queue", func() {
				failed, err := svc.FailedPayouts(ctx, nil)
				So(err, ShouldBeNil)
				So(failed, ShouldHaveLength, 2)
				So(failed[0].Status, ShouldEqual, string(model.StatusFailedTerminal))

				other := uint64(0)
				failed, err = svc.FailedPayouts(ctx, &other)
				So(err, ShouldBeNil)
				So(failed, ShouldBeEmpty)
			})

			Convey("Then an operator can redrive after recovery", func() {
				settler.WithFault(nil)
				p, err := svc.Redrive(ctx, "A", 1)
				So(err, ShouldBeNil)
				So(p.Status, ShouldEqual, string(model.StatusConfirmed))
				So(p.AccountID, ShouldEqual, "A")

				_, err = svc.Redrive(ctx, "A", 1)
				So(errors.Is(err, scheduler.ErrNotRedrivable), ShouldBeTrue)

				failed, err := svc.FailedPayouts(ctx, nil)
				So(err, ShouldBeNil)
				So(failed, ShouldHaveLength, 1)
				So(failed[0].AccountID, ShouldEqual, "C")
			})
		})

		Convey("When C links an external identity before epoch 1 is run", func() {
			id, err := svc.LinkIdentity(ctx, "C", "gh:carol")
			So(err, ShouldBeNil)
			So(id.ExternalRef, ShouldEqual, "gh:carol")
			*now = now.Add(14 * 24 * time.Hour)
			_, err = svc.RunEpoch(ctx, 1)
			So(err, ShouldBeNil)

			Convey("Then C is scored from the activity recorded under that identity", func() {
				sc, err := svc.Score(ctx, "C", nil)
				So(err, ShouldBeNil)
				So(sc.Score.String(), ShouldEqual, "7")
				So(sc.AccountID, ShouldEqual, "C")
			})

			Convey("And linking an unknown account fails", func() {
				_, err := svc.LinkIdentity(ctx, "nobody", "gh:nobody")
				So(errors.Is(err, ledger.ErrUnknownAccount), ShouldBeTrue)
			})
		})

		Convey("When the latest elapsed epochs are run", func() {
			*now = now.Add(14 * 24 * time.Hour)
			So(svc.RunLatest(ctx), ShouldBeNil)

			Convey("Then the newest elapsed epoch is distributed", func() {
				stats := svc.GetStats()
				So(stats["lastDistributedEpoch"], ShouldEqual, uint64(1))
				So(stats["latestElapsedEpoch"], ShouldEqual, uint64(1))
			})
		})
	})
}
