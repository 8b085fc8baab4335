package worker_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/yieldboard/internal/adapters/mq/queue"
	worker "github.com/okian/yieldboard/internal/adapters/mq/worker"
	"github.com/okian/yieldboard/internal/domain/ingest"
	model "github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/internal/domain/scoring"
	"github.com/shopspring/decimal"
	"github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var window = model.Window{
	Start: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
}

type mockIngester struct {
	mu     sync.Mutex
	errs   map[string]error
	calls  int
	points map[string]int
	refs   map[string]string
}

func (m *mockIngester) Ingest(_ context.Context, accountID, externalRef string, w model.Window) (*ingest.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.refs != nil {
		m.refs[accountID] = externalRef
	}
	if err := m.errs[accountID]; err != nil {
		return nil, err
	}
	res := &ingest.Result{AccountID: accountID, Foreign: 1}
	for i := 0; i < m.points[accountID]; i++ {
		res.Records = append(res.Records, model.ContributionRecord{
			AccountID: accountID, Kind: model.KindMergedChange, Weight: 1,
			SourceTime: w.Start.Add(time.Minute), DedupKey: "pr-" + strconv.Itoa(i),
		})
	}
	return res, nil
}

type mockUpdater struct {
	mu     sync.Mutex
	scores map[string]model.EpochScore
	err    error
}

func newMockUpdater() *mockUpdater {
	return &mockUpdater{scores: map[string]model.EpochScore{}}
}

func (m *mockUpdater) SaveEpochScore(_ context.Context, s model.EpochScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.scores[s.AccountID] = s
	return nil
}

func (m *mockUpdater) get(id string) (model.EpochScore, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[id]
	return s, ok
}

func newJob(id string) queue.Job {
	return queue.Job{
		AccountID:        id,
		EpochID:          3,
		Window:           window,
		Balance:          decimal.NewFromInt(100),
		AccountCreatedAt: window.Start.Add(-time.Hour),
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		ing := &mockIngester{
			points: map[string]int{"a": 3},
			errs:   map[string]error{"broken": errors.New("source down")},
			refs:   map[string]string{},
		}
		upd := newMockUpdater()
		w := worker.NewInMemoryWorker(q, ing, scoring.NewScorer(), upd, worker.WithName("w-1"))
		ctx, cancel := context.WithCancel(context.Background())
		go w.Run(ctx)

		convey.Reset(func() {
			cancel()
			_ = w.Shutdown(context.Background())
		})

		convey.Convey("When a job is processed", func() {
			done := make(chan queue.Result, 1)
			j := newJob("a")
			j.Done = done
			convey.So(q.Enqueue(ctx, j), convey.ShouldBeTrue)
			res := <-done

			convey.Convey("Then the score is stored with the stake snapshot", func() {
				convey.So(res.Err, convey.ShouldBeNil)
				convey.So(res.Score.Score.String(), convey.ShouldEqual, "3")
				convey.So(res.Score.Skipped, convey.ShouldEqual, 1)
				stored, ok := upd.get("a")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(stored.Balance.Equal(decimal.NewFromInt(100)), convey.ShouldBeTrue)
				convey.So(stored.EpochID, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the job carries a linked identity", func() {
			done := make(chan queue.Result, 1)
			j := newJob("a")
			j.ExternalRef = "gh:alice"
			j.Done = done
			convey.So(q.Enqueue(ctx, j), convey.ShouldBeTrue)
			res := <-done

			convey.Convey("Then ingestion is asked for that identity", func() {
				convey.So(res.Err, convey.ShouldBeNil)
				ing.mu.Lock()
				defer ing.mu.Unlock()
				convey.So(ing.refs["a"], convey.ShouldEqual, "gh:alice")
			})
		})

		convey.Convey("When ingestion fails", func() {
			done := make(chan queue.Result, 1)
			j := newJob("broken")
			j.Done = done
			q.Enqueue(ctx, j)
			res := <-done

			convey.Convey("Then the error is reported and nothing is stored", func() {
				convey.So(res.Err, convey.ShouldNotBeNil)
				_, ok := upd.get("broken")
				convey.So(ok, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the store fails", func() {
			upd.err = errors.New("locked")
			done := make(chan queue.Result, 1)
			j := newJob("a")
			j.Done = done
			q.Enqueue(ctx, j)

			convey.Convey("Then the job fails", func() {
				convey.So((<-done).Err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a started pool", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(4))
		ing := &mockIngester{points: map[string]int{}, errs: map[string]error{"acct-7": errors.New("boom")}}
		upd := newMockUpdater()
		pool := worker.NewPool(3, q, ing, scoring.NewScorer(), upd)
		pool.Start(context.Background())

		convey.Reset(func() {
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
		})

		convey.Convey("When a batch larger than the queue runs", func() {
			var jobs []queue.Job
			for i := 0; i < 20; i++ {
				id := "acct-" + strconv.Itoa(i)
				ing.points[id] = i % 4
				jobs = append(jobs, newJob(id))
			}
			results, err := pool.RunBatch(context.Background(), jobs)

			convey.Convey("Then every job reports back in submission order", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "acct-7")
				convey.So(results, convey.ShouldHaveLength, 20)
				for i, r := range results {
					convey.So(r.AccountID, convey.ShouldEqual, jobs[i].AccountID)
				}
				convey.So(results[5].Score.Score.String(), convey.ShouldEqual, "1")
				convey.So(pool.Processed(), convey.ShouldEqual, 20)
				convey.So(pool.Size(), convey.ShouldEqual, 3)
			})
		})
	})

	convey.Convey("Given a pool that was never started", t, func() {
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(2, q, &mockIngester{}, scoring.NewScorer(), newMockUpdater())

		convey.Convey("Then shutdown returns immediately", func() {
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})
	})
}
