package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	minStakeCents = 100
	maxStakeCents = 100_000
)

// account is one generated staker.
type account struct {
	ID     string
	Amount decimal.Decimal
}

// Run executes a complete load run against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("loadgen")
	start := time.Now()
	stats := &Stats{}
	c := newClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("accounts", cfg.Accounts),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
	)

	if err := c.health(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}

	accounts := generateAccounts(cfg.Accounts)
	if err := stakeAll(ctx, c, cfg, accounts, stats); err != nil {
		return stats, fmt.Errorf("staking failed: %w", err)
	}
	if cfg.UnstakeEach > 0 {
		if err := unstakeSome(ctx, c, cfg, accounts, stats); err != nil {
			return stats, fmt.Errorf("unstaking failed: %w", err)
		}
	}

	if cfg.RunEpoch == nil {
		stats.Duration = time.Since(start)
		logStats(ctx, log, stats)
		return stats, nil
	}

	report, err := c.runEpoch(ctx, *cfg.RunEpoch)
	if err != nil {
		return stats, fmt.Errorf("epoch run failed: %w", err)
	}
	log.Info(ctx, "epoch run finished",
		logger.Uint64("epoch", report.EpochID),
		logger.String("stage", report.Stage),
		logger.Int("payouts", report.Payouts),
		logger.Int("confirmed", report.Confirmed),
	)

	topN := cfg.TopN
	if topN <= 0 {
		topN = cfg.Accounts
	}
	board, err := c.leaderboard(ctx, cfg.RunEpoch, topN)
	if err != nil {
		return stats, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	stats.LeaderboardEntries = len(board)

	ranks, err := retrieveRanks(ctx, c, cfg, accounts, stats)
	if err != nil {
		return stats, fmt.Errorf("rank retrieval failed: %w", err)
	}
	stats.Duration = time.Since(start)
	logStats(ctx, log, stats)

	if err := verify(board, ranks); err != nil {
		return stats, err
	}
	log.Info(ctx, "leaderboard consistency verified")
	return stats, nil
}

// generateAccounts creates n accounts with random two-decimal stakes.
func generateAccounts(n int) []account {
	out := make([]account, n)
	for i := range out {
		cents := minStakeCents + rand.Int64N(maxStakeCents-minStakeCents)
		out[i] = account{ID: uuid.NewString(), Amount: decimal.New(cents, -2)}
	}
	return out
}

func stakeAll(ctx context.Context, c *client, cfg *Config, accounts []account, stats *Stats) error {
	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, a := range accounts {
		g.Go(func() error {
			if _, err := c.stake(gctx, a.ID, a.Amount); err != nil {
				failed.Add(1)
				if cfg.Verbose {
					logger.Get().Warn(gctx, "stake failed", logger.String("account", a.ID), logger.Error(err))
				}
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	stats.Staked = int(ok.Load())
	stats.StakeFailed = int(failed.Load())
	return ctx.Err()
}

func unstakeSome(ctx context.Context, c *client, cfg *Config, accounts []account, stats *Stats) error {
	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < len(accounts); i += cfg.UnstakeEach {
		a := accounts[i]
		g.Go(func() error {
			half := a.Amount.Div(decimal.NewFromInt(2)).RoundDown(2)
			if _, err := c.unstake(gctx, a.ID, half); err != nil {
				failed.Add(1)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	stats.Unstaked = int(ok.Load())
	stats.UnstakeFailed = int(failed.Load())
	return ctx.Err()
}

// retrieveRanks fetches the rank of every account. Accounts the epoch did not
// rank are skipped.
func retrieveRanks(ctx context.Context, c *client, cfg *Config, accounts []account, stats *Stats) (map[string]rankedEntry, error) {
	results := make([]rankedEntry, len(accounts))
	var unranked atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, a := range accounts {
		g.Go(func() error {
			e, err := c.rank(gctx, a.ID, cfg.RunEpoch)
			var se *statusError
			switch {
			case errors.As(err, &se) && se.Status == http.StatusNotFound:
				unranked.Add(1)
				return nil
			case err != nil:
				return fmt.Errorf("rank %s: %w", a.ID, err)
			}
			results[i] = rankedEntry{Rank: e.Rank, AccountID: e.AccountID, Score: e.Score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]rankedEntry, len(accounts))
	for _, r := range results {
		if r.AccountID != "" {
			out[r.AccountID] = r
		}
	}
	stats.RanksRetrieved = len(out)
	stats.Unranked = int(unranked.Load())
	return out, nil
}

func logStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Staked+stats.Unstaked) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("staked", stats.Staked),
		logger.Int("stakeFailed", stats.StakeFailed),
		logger.Int("unstaked", stats.Unstaked),
		logger.Int("unstakeFailed", stats.UnstakeFailed),
		logger.Int("ranksRetrieved", stats.RanksRetrieved),
		logger.Int("unranked", stats.Unranked),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("writesPerSecond", perSecond),
	)
}
