// Package service wires the ledger, ingestion, scoring, leaderboard and
// scheduler into the surface served by the HTTP API and the CLI.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/yieldboard/internal/adapters/activity"
	"github.com/okian/yieldboard/internal/adapters/classifier"
	eventqueue "github.com/okian/yieldboard/internal/adapters/mq/queue"
	workerpool "github.com/okian/yieldboard/internal/adapters/mq/worker"
	"github.com/okian/yieldboard/internal/adapters/repository"
	settlementadapter "github.com/okian/yieldboard/internal/adapters/settlement"
	"github.com/okian/yieldboard/internal/app/scheduler"
	"github.com/okian/yieldboard/internal/config"
	"github.com/okian/yieldboard/internal/domain/dedupe"
	"github.com/okian/yieldboard/internal/domain/ingest"
	"github.com/okian/yieldboard/internal/domain/leaderboard"
	"github.com/okian/yieldboard/internal/domain/ledger"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/internal/domain/reward"
	"github.com/okian/yieldboard/internal/domain/scoring"
	"github.com/okian/yieldboard/internal/domain/settlement"
	"github.com/okian/yieldboard/internal/domain/types"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/okian/yieldboard/pkg/metrics"
	"github.com/shopspring/decimal"
)

const syntheticSeed = 1

// Service implements the API dependencies of the staking and reward system.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config

	// Core components
	store     *repository.SQLStore
	ledger    *ledger.Ledger
	board     *leaderboard.Leaderboard
	jobs      *eventqueue.InMemoryQueue
	pool      *workerpool.Pool
	scheduler *scheduler.Scheduler

	// External systems; selected from cfg unless set by an option
	source     ingest.Source
	classifier scoring.Classifier
	settler    settlement.Settler

	now       func() time.Time
	started   bool
	startedAt time.Time

	logger logger.Logger
}

// New constructs a Service for cfg. Components are built by Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, builds every component and starts the worker pool
// and, when a schedule interval is configured, the epoch trigger.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting yieldboard service...")

	genesis, err := s.cfg.Genesis()
	if err != nil {
		return fmt.Errorf("epoch genesis: %w", err)
	}

	store, err := repository.Open(s.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = store
	s.selectAdapters(ctx)

	s.ledger = ledger.New(store,
		ledger.WithLockPeriod(s.cfg.LockPeriod),
		ledger.WithPenaltyRate(s.cfg.EarlyUnstakePenalty),
		ledger.WithPrecision(s.cfg.SettlementPrecision),
		ledger.WithClock(s.now),
	)
	s.board = leaderboard.New(store, leaderboard.WithClock(s.now))

	ingester := ingest.New(s.source, store,
		ingest.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))),
		ingest.WithAttempts(s.cfg.ActivityAttempts, s.cfg.RetryInitialInterval),
	)
	scorer := scoring.NewScorer(
		scoring.WithKindWeights(s.cfg.KindWeights),
		scoring.WithClassifier(s.classifier),
		scoring.WithMultiplierRange(s.cfg.ClassifierMinMultiplier, s.cfg.ClassifierMaxMultiplier),
		scoring.WithVerdictCacheSize(s.cfg.VerdictCacheSize),
	)

	s.jobs = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.cfg.QueueSize))
	s.pool = workerpool.NewPool(s.cfg.WorkerCount, s.jobs, ingester, scorer, store)
	s.pool.Start(ctx)

	calc := reward.NewCalculator(reward.Rates{
		BaseAnnual:    decimal.NewFromFloat(s.cfg.BaseRateAnnual),
		EpochLength:   s.cfg.EpochLength,
		BonusPerPoint: decimal.NewFromFloat(s.cfg.BonusPerPoint),
		RewardedRanks: s.cfg.RewardedRanks,
		Precision:     s.cfg.SettlementPrecision,
	})
	s.scheduler = scheduler.New(store, s.pool, s.board, calc, s.settler,
		scheduler.WithEpochs(genesis, s.cfg.EpochLength),
		scheduler.WithMaxAttempts(s.cfg.MaxSettlementAttempts),
		scheduler.WithRetryBackoff(s.cfg.RetryInitialInterval, s.cfg.RetryMaxInterval),
		scheduler.WithSubmitConcurrency(s.cfg.SubmitConcurrency),
		scheduler.WithSubmitTimeout(s.cfg.SettlementTimeout),
		scheduler.WithInterval(s.cfg.ScheduleInterval),
		scheduler.WithClock(s.now),
	)
	if err := s.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "yieldboard service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.cfg.QueueSize),
		logger.String("db", s.cfg.DBPath),
		logger.Duration("epochLength", s.cfg.EpochLength),
		logger.Duration("scheduleInterval", s.cfg.ScheduleInterval),
	)
	return nil
}

func (s *Service) selectAdapters(ctx context.Context) {
	if s.source == nil {
		if s.cfg.ActivityURL != "" {
			s.source = activity.NewHTTP(s.cfg.ActivityURL)
			s.logger.Info(ctx, "using activity API", logger.String("url", s.cfg.ActivityURL))
		} else {
			s.source = activity.NewSynthetic(syntheticSeed)
			s.logger.Info(ctx, "using synthetic activity source")
		}
	}
	if s.classifier == nil && s.cfg.ClassifierURL != "" {
		s.classifier = classifier.NewHTTP(s.cfg.ClassifierURL, classifier.WithTimeout(s.cfg.ClassifierTimeout))
		s.logger.Info(ctx, "using remote classifier", logger.String("url", s.cfg.ClassifierURL))
	}
	if s.settler == nil {
		if s.cfg.SettlementURL != "" {
			s.settler = settlementadapter.NewHTTPClient(s.cfg.SettlementURL, s.cfg.SettlementTimeout)
			s.logger.Info(ctx, "using settlement service", logger.String("url", s.cfg.SettlementURL))
		} else {
			s.settler = settlementadapter.NewMemory()
			s.logger.Warn(ctx, "using in-memory settlement; transfers are not real")
		}
	}
}

// Stop stops the trigger, drains the worker pool and closes the store.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping yieldboard service...")

	s.scheduler.Stop()
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "yieldboard service stopped")
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Stake adds amount to the stake of accountID.
func (s *Service) Stake(ctx context.Context, accountID string, amount decimal.Decimal) (types.Balance, error) {
	if err := s.ready(); err != nil {
		return types.Balance{}, err
	}
	acct, err := s.ledger.Stake(ctx, accountID, amount)
	if err != nil {
		return types.Balance{}, err
	}
	return toBalance(acct), nil
}

// Unstake withdraws amount from the stake of accountID. The released amount
// is settled asynchronously by the scheduler.
func (s *Service) Unstake(ctx context.Context, accountID string, amount decimal.Decimal) (types.Release, error) {
	if err := s.ready(); err != nil {
		return types.Release{}, err
	}
	rel, err := s.ledger.Unstake(ctx, accountID, amount)
	if err != nil {
		return types.Release{}, err
	}
	out := types.Release{
		AccountID: accountID,
		Released:  rel.Released,
		Penalty:   rel.Penalty,
		Balance:   rel.Account.Balance,
	}
	if rel.Withdrawal != nil {
		out.WithdrawalID = rel.Withdrawal.ID
	}
	return out, nil
}

// Balance returns the stake position of accountID.
func (s *Service) Balance(ctx context.Context, accountID string) (types.Balance, error) {
	if err := s.ready(); err != nil {
		return types.Balance{}, err
	}
	acct, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return types.Balance{}, err
	}
	if acct == nil {
		return types.Balance{}, fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, accountID)
	}
	return toBalance(acct), nil
}

// History returns the stake audit trail of accountID, oldest first.
func (s *Service) History(ctx context.Context, accountID string) ([]types.HistoryItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	acct, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, accountID)
	}
	events, err := s.ledger.History(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]types.HistoryItem, len(events))
	for i, e := range events {
		out[i] = types.HistoryItem{
			Kind:         string(e.Kind),
			Amount:       e.Amount,
			Penalty:      e.Penalty,
			Released:     e.Released,
			BalanceAfter: e.BalanceAfter,
			At:           e.At,
		}
	}
	return out, nil
}

// LinkIdentity links accountID to the external identity its activity is
// fetched under from the next scored epoch on.
func (s *Service) LinkIdentity(ctx context.Context, accountID, externalRef string) (types.Identity, error) {
	if err := s.ready(); err != nil {
		return types.Identity{}, err
	}
	acct, err := s.ledger.LinkIdentity(ctx, accountID, externalRef)
	if err != nil {
		return types.Identity{}, err
	}
	return types.Identity{AccountID: acct.ID, ExternalRef: acct.ExternalRef}, nil
}

// Score returns the stored score of accountID for an epoch. A nil epoch
// selects the latest closed one.
func (s *Service) Score(ctx context.Context, accountID string, epochID *uint64) (types.Score, error) {
	if err := s.ready(); err != nil {
		return types.Score{}, err
	}
	id, err := s.resolveEpoch(ctx, epochID)
	if err != nil {
		return types.Score{}, err
	}
	sc, err := s.store.GetEpochScore(ctx, accountID, id)
	if err != nil {
		return types.Score{}, err
	}
	if sc == nil {
		return types.Score{}, fmt.Errorf("%w: %s in epoch %d", ErrNoScore, accountID, id)
	}
	return types.Score{
		AccountID: sc.AccountID,
		EpochID:   sc.EpochID,
		Score:     sc.Score,
		Balance:   sc.Balance,
		Counted:   sc.Counted,
		Skipped:   sc.Skipped,
		Degraded:  sc.Degraded,
	}, nil
}

// Leaderboard returns the top limit entries of a closed epoch. A nil epoch
// selects the latest closed one.
func (s *Service) Leaderboard(ctx context.Context, epochID *uint64, limit int) ([]types.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := s.resolveEpoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	entries, err := s.board.TopN(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entry, len(entries))
	for i, e := range entries {
		out[i] = toEntry(id, e)
	}
	return out, nil
}

// Rank returns the leaderboard entry of accountID in a closed epoch.
func (s *Service) Rank(ctx context.Context, accountID string, epochID *uint64) (types.Entry, error) {
	if err := s.ready(); err != nil {
		return types.Entry{}, err
	}
	id, err := s.resolveEpoch(ctx, epochID)
	if err != nil {
		return types.Entry{}, err
	}
	e, err := s.board.Rank(ctx, id, accountID)
	if err != nil {
		return types.Entry{}, err
	}
	return toEntry(id, e), nil
}

func (s *Service) resolveEpoch(ctx context.Context, epochID *uint64) (model.EpochID, error) {
	if epochID != nil {
		return *epochID, nil
	}
	id, ok, err := s.store.LatestClosedEpoch(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoClosedEpoch
	}
	return id, nil
}

// Payouts returns every payout of accountID with its settlement status.
func (s *Service) Payouts(ctx context.Context, accountID string) ([]types.Payout, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	payouts, err := s.store.ListAccountPayouts(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Payout, len(payouts))
	for i := range payouts {
		out[i] = toPayout(&payouts[i])
	}
	return out, nil
}

// FailedPayouts returns the failed-terminal payouts awaiting operator review,
// optionally of one epoch.
func (s *Service) FailedPayouts(ctx context.Context, epochID *uint64) ([]types.Payout, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	payouts, err := s.store.ListFailedPayouts(ctx, epochID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Payout, len(payouts))
	for i := range payouts {
		out[i] = toPayout(&payouts[i])
	}
	return out, nil
}

// EpochReport summarizes epochID without running it.
func (s *Service) EpochReport(ctx context.Context, epochID uint64) (*types.EpochReport, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	report, err := s.scheduler.Report(ctx, epochID)
	if err != nil {
		return nil, err
	}
	if report.Stage == "" {
		return nil, fmt.Errorf("%w: %d", ErrEpochNotRun, epochID)
	}
	return report, nil
}

// RunEpoch triggers a run of epochID.
func (s *Service) RunEpoch(ctx context.Context, epochID uint64) (*types.EpochReport, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.scheduler.RunEpoch(ctx, epochID)
}

// RunLatest runs every elapsed epoch that has not been distributed yet.
func (s *Service) RunLatest(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.scheduler.Tick(ctx)
	return nil
}

// Redrive re-submits a failed-terminal payout under its original key.
func (s *Service) Redrive(ctx context.Context, accountID string, epochID uint64) (types.Payout, error) {
	if err := s.ready(); err != nil {
		return types.Payout{}, err
	}
	p, err := s.scheduler.Redrive(ctx, accountID, epochID)
	if p == nil {
		return types.Payout{}, err
	}
	return toPayout(p), err
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.QueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()
	metrics.UpdateSystemMemoryUsage(mem.Alloc)
	metrics.UpdateSystemGoroutineCount(goroutines)
	stats["goroutines"] = goroutines
	stats["memoryBytes"] = mem.Alloc

	if !s.started {
		return stats
	}

	queueLen := s.jobs.Len(ctx)
	stats["queueLength"] = queueLen
	stats["workerCount"] = s.pool.Size()
	stats["processedJobs"] = s.pool.Processed()
	stats["uptime"] = s.now().Sub(s.startedAt).String()
	metrics.UpdateQueueSize(queueLen)

	if n, err := s.store.CountAccounts(ctx); err == nil {
		stats["accounts"] = n
	}
	if n, err := s.store.CountContributions(ctx); err == nil {
		stats["contributions"] = n
	}
	if byStatus, err := s.store.CountPayoutsByStatus(ctx); err == nil {
		counts := make(map[string]int64, len(byStatus))
		for st, n := range byStatus {
			counts[string(st)] = n
		}
		stats["payouts"] = counts
	}
	if id, ok, err := s.store.LatestDistributedEpoch(ctx); err == nil && ok {
		stats["lastDistributedEpoch"] = id
	}
	if id, ok := s.scheduler.LatestElapsed(); ok {
		stats["latestElapsedEpoch"] = id
	}
	return stats
}

func toBalance(a *model.Account) types.Balance {
	b := types.Balance{AccountID: a.ID, Balance: a.Balance}
	if a.Balance.IsPositive() && !a.LockUntil.IsZero() {
		lock := a.LockUntil
		b.LockUntil = &lock
	}
	return b
}

func toEntry(epochID model.EpochID, e model.RankedEntry) types.Entry {
	return types.Entry{Rank: e.Rank, AccountID: e.AccountID, Score: e.Score, EpochID: epochID}
}

func toPayout(p *model.Payout) types.Payout {
	return types.Payout{
		AccountID: p.AccountID,
		EpochID:   p.EpochID,
		Rank:      p.Rank,
		Base:      p.Base,
		Bonus:     p.Bonus,
		Total:     p.Total,
		Status:    string(p.Status),
		Attempts:  p.Attempts,
		LastError: p.LastError,
	}
}
