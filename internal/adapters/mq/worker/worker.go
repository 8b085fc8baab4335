// Package worker runs per-account ingestion and scoring jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/yieldboard/internal/adapters/mq/queue"
	"github.com/okian/yieldboard/internal/domain/ingest"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/internal/domain/scoring"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/okian/yieldboard/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	metricsUpdateInterval   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Ingester brings the records of an account for a window into the store.
type Ingester interface {
	Ingest(ctx context.Context, accountID, externalRef string, w model.Window) (*ingest.Result, error)
}

// Scorer computes the epoch score of an account from its records.
type Scorer interface {
	ScoreEpoch(ctx context.Context, accountID string, w model.Window, recs []model.ContributionRecord) (scoring.Result, error)
}

// Updater persists epoch scores.
type Updater interface {
	SaveEpochScore(ctx context.Context, score model.EpochScore) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until its queue closes or it is stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in hand.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue    Queue
	ingester Ingester
	scorer   Scorer
	updater  Updater
	name     string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, ingester Ingester, scorer Scorer, updater Updater, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		ingester: ingester,
		scorer:   scorer,
		updater:  updater,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			res := w.process(ctx, job)
			if res.Err != nil {
				w.logger.Error(ctx, "scoring job failed",
					logger.String("account", job.AccountID),
					logger.Uint64("epoch", job.EpochID),
					logger.Error(res.Err),
				)
			}
			if job.Done != nil {
				job.Done <- res
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process ingests, scores and stores one account.
func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) queue.Result { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerJobLatency(float64(time.Since(start).Milliseconds()))
	}()
	res := queue.Result{AccountID: job.AccountID}

	in, err := w.ingester.Ingest(ctx, job.AccountID, job.ExternalRef, job.Window)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "ingest_error")
		res.Err = fmt.Errorf("ingest %s: %w", job.AccountID, err)
		return res
	}

	sc, err := w.scorer.ScoreEpoch(ctx, job.AccountID, job.Window, in.Records)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "scoring_error")
		res.Err = fmt.Errorf("score %s: %w", job.AccountID, err)
		return res
	}

	score := model.EpochScore{
		AccountID:        job.AccountID,
		EpochID:          job.EpochID,
		Score:            sc.Score,
		Balance:          job.Balance,
		AccountCreatedAt: job.AccountCreatedAt,
		Counted:          sc.Counted,
		Skipped:          sc.SkippedTotal() + in.Foreign + in.Malformed,
		Degraded:         sc.Degraded,
	}
	if err := w.updater.SaveEpochScore(ctx, score); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "store_error")
		res.Err = fmt.Errorf("save score %s: %w", job.AccountID, err)
		return res
	}
	res.Score = score
	return res
}

// Submitter is the part of the queue the pool feeds.
type Submitter interface {
	Submit(ctx context.Context, j queue.Job) error
	Len(ctx context.Context) int
	Close() error
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   interface {
		Queue
		Submitter
	}

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processed atomic.Int64

	logger logger.Logger
}

// NewPool creates a worker pool. A non-positive count uses twice the CPU count.
func NewPool(workerCount int, q interface {
	Queue
	Submitter
}, ingester Ingester, scorer Scorer, updater Updater) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		p.workers[i] = NewInMemoryWorker(q, ingester, scorer, updater, WithName("worker-"+strconv.Itoa(i)))
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			w.Run(runCtx)
		}(w)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.startMetricsUpdater(runCtx)
	}()
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.queue.Len(ctx)
		}
	}
}

// Processed returns the number of jobs completed since start.
func (p *Pool) Processed() int64 {
	return p.processed.Load()
}

// RunBatch submits jobs, waits for all of them and returns their results in
// submission order. Failed jobs are joined into the returned error.
func (p *Pool) RunBatch(ctx context.Context, jobs []queue.Job) ([]queue.Result, error) {
	done := make(chan queue.Result, len(jobs))
	submitted := 0
	for _, j := range jobs {
		j.Done = done
		if err := p.queue.Submit(ctx, j); err != nil {
			return nil, fmt.Errorf("submit %s: %w", j.AccountID, err)
		}
		submitted++
	}

	byAccount := make(map[string]queue.Result, submitted)
	var errs []error
	for i := 0; i < submitted; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-done:
			p.processed.Add(1)
			byAccount[r.AccountID] = r
			if r.Err != nil {
				errs = append(errs, r.Err)
			}
		}
	}

	out := make([]queue.Result, 0, submitted)
	for _, j := range jobs {
		out = append(out, byAccount[j.AccountID])
	}
	return out, errors.Join(errs...)
}

// Shutdown closes the queue, lets workers drain it and stops them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}
	if p.cancel == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	p.cancel()
	p.wg.Wait()
	metrics.UpdateWorkerCount(0)
	return nil
}
