// Package scheduler drives epochs through scoring, closure, payout computation
// and settlement, and owns the payout and withdrawal state machines.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/yieldboard/internal/adapters/mq/queue"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/internal/domain/reward"
	"github.com/okian/yieldboard/internal/domain/settlement"
	"github.com/okian/yieldboard/internal/domain/types"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/okian/yieldboard/pkg/metrics"
)

const (
	defaultEpochLength   = 7 * 24 * time.Hour
	defaultMaxAttempts   = 5
	defaultRetryInitial  = 500 * time.Millisecond
	defaultRetryMax      = 30 * time.Second
	defaultConcurrency   = 8
	defaultSubmitTimeout = 10 * time.Second
)

// Store is the persistent state the scheduler reads and advances.
type Store interface {
	ListStakedAccounts(ctx context.Context) ([]model.Account, error)
	ListEpochScores(ctx context.Context, epochID model.EpochID) ([]model.EpochScore, error)

	GetEpochRun(ctx context.Context, epochID model.EpochID) (*model.EpochRun, error)
	LatestEpochRun(ctx context.Context) (*model.EpochRun, error)
	AdvanceEpoch(ctx context.Context, epochID model.EpochID, stage model.EpochStage) (*model.EpochRun, error)

	InsertPayouts(ctx context.Context, payouts []model.Payout) (int, error)
	GetPayout(ctx context.Context, accountID string, epochID model.EpochID) (*model.Payout, error)
	ListEpochPayouts(ctx context.Context, epochID model.EpochID) ([]model.Payout, error)
	ListUnresolvedPayouts(ctx context.Context) ([]model.Payout, error)
	TransitionPayout(ctx context.Context, accountID string, epochID model.EpochID, from, to model.PayoutStatus, mutate func(*model.Payout)) (*model.Payout, error)

	ListWithdrawals(ctx context.Context, statuses ...model.PayoutStatus) ([]model.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id string, from, to model.PayoutStatus, mutate func(*model.Withdrawal)) (*model.Withdrawal, error)
}

// ScoreRunner ingests and scores a batch of accounts.
type ScoreRunner interface {
	RunBatch(ctx context.Context, jobs []queue.Job) ([]queue.Result, error)
}

// Closer freezes the score set of an epoch into a snapshot.
type Closer interface {
	CloseEpoch(ctx context.Context, epochID model.EpochID, scores []model.EpochScore) (*model.Snapshot, error)
	Snapshot(ctx context.Context, epochID model.EpochID) (*model.Snapshot, error)
}

// Calculator turns a snapshot into pending payouts.
type Calculator interface {
	ComputePayouts(epochID model.EpochID, snap *model.Snapshot, view reward.StakeView) []model.Payout
}

// Scheduler runs epochs one at a time in increasing id order.
type Scheduler struct {
	store   Store
	runner  ScoreRunner
	closer  Closer
	calc    Calculator
	settler settlement.Settler

	genesis       time.Time
	epochLength   time.Duration
	maxAttempts   int
	retryInitial  time.Duration
	retryMax      time.Duration
	concurrency   int
	submitTimeout time.Duration
	interval      time.Duration
	now           func() time.Time

	mu sync.Mutex // one epoch run or settlement pass at a time

	loopMu  sync.Mutex
	stop    chan struct{}
	stopped chan struct{}

	logger logger.Logger
}

// New creates a scheduler.
func New(store Store, runner ScoreRunner, closer Closer, calc Calculator, settler settlement.Settler, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:         store,
		runner:        runner,
		closer:        closer,
		calc:          calc,
		settler:       settler,
		genesis:       time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		epochLength:   defaultEpochLength,
		maxAttempts:   defaultMaxAttempts,
		retryInitial:  defaultRetryInitial,
		retryMax:      defaultRetryMax,
		concurrency:   defaultConcurrency,
		submitTimeout: defaultSubmitTimeout,
		now:           time.Now,
		logger:        logger.Get().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the time window of epochID.
func (s *Scheduler) Window(epochID model.EpochID) model.Window {
	return model.EpochWindow(s.genesis, s.epochLength, epochID)
}

// LatestElapsed returns the newest epoch whose window has ended.
func (s *Scheduler) LatestElapsed() (model.EpochID, bool) {
	return model.LatestElapsed(s.genesis, s.epochLength, s.now())
}

// RunEpoch takes epochID through every remaining stage: scoring, closure,
// payout computation and submission. Completed stages are skipped, so a
// cancelled or crashed run resumes where it stopped and a finished epoch only
// revisits its unresolved payouts. Cancellation is honoured between stages and
// between submissions, never inside one.
func (s *Scheduler) RunEpoch(ctx context.Context, epochID model.EpochID) (*types.EpochReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	report, err := s.runEpoch(ctx, epochID)
	if err != nil {
		metrics.RecordEpochRun("error")
		metrics.RecordErrorByComponent("scheduler", "run_epoch")
		s.logger.Error(ctx, "epoch run stopped",
			logger.Uint64("epoch", epochID),
			logger.Duration("took", s.now().Sub(start)),
			logger.Error(err),
		)
		return report, err
	}
	metrics.RecordEpochRun("ok")
	s.logger.Info(ctx, "epoch run finished",
		logger.Uint64("epoch", epochID),
		logger.Int("payouts", report.Payouts),
		logger.Int("confirmed", report.Confirmed),
		logger.Int("failed_terminal", report.Terminal),
		logger.Int("unresolved", report.Unresolved),
		logger.Duration("took", s.now().Sub(start)),
	)
	return report, nil
}

func (s *Scheduler) runEpoch(ctx context.Context, epochID model.EpochID) (*types.EpochReport, error) {
	report := &types.EpochReport{EpochID: epochID}
	if s.now().Before(s.Window(epochID).End) {
		return report, fmt.Errorf("%w: epoch %d", ErrEpochNotElapsed, epochID)
	}

	run, err := s.store.GetEpochRun(ctx, epochID)
	if err != nil {
		return report, fmt.Errorf("load run %d: %w", epochID, err)
	}
	if err := s.checkOrder(ctx, epochID, run); err != nil {
		return report, err
	}
	stage := model.StageNone
	if run != nil {
		stage = run.Stage
	}

	if !stage.Reached(model.StageScored) {
		if err := s.stage(ctx, epochID, model.StageScored, func() error {
			return s.scoreStage(ctx, epochID)
		}); err != nil {
			return report, err
		}
	}

	scores, err := s.store.ListEpochScores(ctx, epochID)
	if err != nil {
		return report, fmt.Errorf("list scores %d: %w", epochID, err)
	}
	report.Accounts = len(scores)
	for _, sc := range scores {
		if sc.Degraded {
			report.Degraded++
		}
	}

	var snap *model.Snapshot
	if !stage.Reached(model.StageClosed) {
		if err := s.stage(ctx, epochID, model.StageClosed, func() error {
			var cerr error
			snap, cerr = s.closer.CloseEpoch(ctx, epochID, scores)
			return cerr
		}); err != nil {
			return report, err
		}
	} else if snap, err = s.closer.Snapshot(ctx, epochID); err != nil {
		return report, fmt.Errorf("load snapshot %d: %w", epochID, err)
	}

	if !stage.Reached(model.StageComputed) {
		if err := s.stage(ctx, epochID, model.StageComputed, func() error {
			payouts := s.calc.ComputePayouts(epochID, snap, reward.BalancesFromScores(scores))
			created, ierr := s.store.InsertPayouts(ctx, payouts)
			if ierr != nil {
				return fmt.Errorf("insert payouts %d: %w", epochID, ierr)
			}
			metrics.RecordPayoutsCreated(created)
			return nil
		}); err != nil {
			return report, err
		}
	}

	distStart := s.now()
	if err := s.settleEpoch(ctx, epochID); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if !stage.Reached(model.StageDistributed) {
		if _, err := s.store.AdvanceEpoch(ctx, epochID, model.StageDistributed); err != nil {
			return report, fmt.Errorf("advance %d: %w", epochID, err)
		}
		metrics.UpdateLastDistributedEpoch(epochID)
	}
	metrics.RecordEpochStage(string(model.StageDistributed), s.now().Sub(distStart))
	report.Stage = string(model.StageDistributed)

	return report, s.fillPayoutCounts(ctx, report)
}

// stage runs fn and records that epochID reached target. A cancelled context
// stops the run before fn starts.
func (s *Scheduler) stage(ctx context.Context, epochID model.EpochID, target model.EpochStage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := s.now()
	if err := fn(); err != nil {
		return fmt.Errorf("epoch %d stage %s: %w", epochID, target, err)
	}
	if _, err := s.store.AdvanceEpoch(ctx, epochID, target); err != nil {
		return fmt.Errorf("advance %d to %s: %w", epochID, target, err)
	}
	metrics.RecordEpochStage(string(target), s.now().Sub(start))
	s.logger.Info(ctx, "epoch stage complete",
		logger.Uint64("epoch", epochID),
		logger.String("stage", string(target)),
		logger.Duration("took", s.now().Sub(start)),
	)
	return nil
}

// checkOrder enforces increasing epoch order. An epoch that already has a run
// may always be resumed; a new epoch may only follow a fully distributed one
// whose payouts are all resolved.
func (s *Scheduler) checkOrder(ctx context.Context, epochID model.EpochID, run *model.EpochRun) error {
	if run != nil {
		return s.settlePrior(ctx, epochID)
	}
	latest, err := s.store.LatestEpochRun(ctx)
	if err != nil {
		return fmt.Errorf("load latest run: %w", err)
	}
	if latest != nil {
		if latest.EpochID > epochID {
			return fmt.Errorf("%w: %d (latest run %d)", ErrEpochNotStarted, epochID, latest.EpochID)
		}
		if !latest.Stage.Reached(model.StageDistributed) {
			return fmt.Errorf("%w: epoch %d is at stage %q", ErrPriorEpochUnresolved, latest.EpochID, latest.Stage)
		}
	}
	return s.settlePrior(ctx, epochID)
}

// settlePrior drives the unresolved payouts of earlier epochs, oldest first,
// and fails if any remain.
func (s *Scheduler) settlePrior(ctx context.Context, epochID model.EpochID) error {
	unresolved, err := s.store.ListUnresolvedPayouts(ctx)
	if err != nil {
		return fmt.Errorf("list unresolved payouts: %w", err)
	}
	var prior []model.EpochID
	seen := map[model.EpochID]bool{}
	for _, p := range unresolved {
		if p.EpochID < epochID && !seen[p.EpochID] {
			seen[p.EpochID] = true
			prior = append(prior, p.EpochID)
		}
	}
	for _, id := range prior {
		if err := s.settleEpoch(ctx, id); err != nil {
			return err
		}
	}
	if len(prior) == 0 {
		return nil
	}

	unresolved, err = s.store.ListUnresolvedPayouts(ctx)
	if err != nil {
		return fmt.Errorf("list unresolved payouts: %w", err)
	}
	for _, p := range unresolved {
		if p.EpochID < epochID {
			return fmt.Errorf("%w: payout %s is %s", ErrPriorEpochUnresolved, p.Key(), p.Status)
		}
	}
	return nil
}

// scoreStage ingests and scores every participant. Participants are the
// accounts holding stake when the stage starts; their balance is stored with
// the score so payouts can be recomputed later.
func (s *Scheduler) scoreStage(ctx context.Context, epochID model.EpochID) error {
	accounts, err := s.store.ListStakedAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	metrics.UpdateStakedAccounts(len(accounts))

	w := s.Window(epochID)
	jobs := make([]queue.Job, len(accounts))
	for i := range accounts {
		jobs[i] = queue.Job{
			AccountID:        accounts[i].ID,
			ExternalRef:      accounts[i].ExternalRef,
			EpochID:          epochID,
			Window:           w,
			Balance:          accounts[i].Balance,
			AccountCreatedAt: accounts[i].CreatedAt,
		}
	}
	if _, err := s.runner.RunBatch(ctx, jobs); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) fillPayoutCounts(ctx context.Context, report *types.EpochReport) error {
	payouts, err := s.store.ListEpochPayouts(ctx, report.EpochID)
	if err != nil {
		return fmt.Errorf("list payouts %d: %w", report.EpochID, err)
	}
	report.Payouts = len(payouts)
	report.Confirmed, report.Terminal, report.Unresolved = 0, 0, 0
	for _, p := range payouts {
		switch p.Status {
		case model.StatusConfirmed:
			report.Confirmed++
		case model.StatusFailedTerminal:
			report.Terminal++
		default:
			report.Unresolved++
		}
	}
	return nil
}

// Report summarizes an epoch without running it.
func (s *Scheduler) Report(ctx context.Context, epochID model.EpochID) (*types.EpochReport, error) {
	report := &types.EpochReport{EpochID: epochID}
	run, err := s.store.GetEpochRun(ctx, epochID)
	if err != nil {
		return nil, err
	}
	if run != nil {
		report.Stage = string(run.Stage)
	}
	scores, err := s.store.ListEpochScores(ctx, epochID)
	if err != nil {
		return nil, err
	}
	report.Accounts = len(scores)
	for _, sc := range scores {
		if sc.Degraded {
			report.Degraded++
		}
	}
	return report, s.fillPayoutCounts(ctx, report)
}
