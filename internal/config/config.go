// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults, Load(ctx) to layer file and env on top.
// - Rates, penalties and weights are deployment configuration; defaults are illustrative.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite data directory. Empty keeps everything in memory.
	DBPath string `koanf:"db_path"`

	// WorkerCount sets the number of ingestion/scoring workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the scoring job queue.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize bounds the in-memory seen-set placed in front of the contribution index.
	DedupeSize int `koanf:"dedupe_size"`

	// VerdictCacheSize bounds the classifier verdict cache.
	VerdictCacheSize int `koanf:"verdict_cache_size"`

	// EpochGenesis is the RFC3339 start of epoch 0.
	EpochGenesis string `koanf:"epoch_genesis"`

	// EpochLength is the duration of one epoch.
	EpochLength time.Duration `koanf:"epoch_length"`

	// ScheduleInterval enables the time-based trigger when positive.
	ScheduleInterval time.Duration `koanf:"schedule_interval"`

	// LockPeriod is the minimum stake duration before penalty-free withdrawal.
	LockPeriod time.Duration `koanf:"lock_period"`

	// EarlyUnstakePenalty is the fraction withheld on early withdrawal (0.015 = 1.5%).
	EarlyUnstakePenalty float64 `koanf:"early_unstake_penalty"`

	// BaseRateAnnual is the annual base staking yield, prorated to the epoch length.
	BaseRateAnnual float64 `koanf:"base_rate_annual"`

	// BonusPerPoint is paid per contribution point inside the rewarded rank window.
	BonusPerPoint float64 `koanf:"bonus_per_point"`

	// RewardedRanks is the size of the rewarded rank window; 0 rewards every rank.
	RewardedRanks int `koanf:"rewarded_ranks"`

	// SettlementPrecision is the number of decimal places of the settlement minimum unit.
	SettlementPrecision int32 `koanf:"settlement_precision"`

	// KindWeights maps contribution kinds to their base weight.
	KindWeights map[string]float64 `koanf:"kind_weights"`

	// ClassifierURL enables the remote qualitative classifier when set.
	ClassifierURL           string        `koanf:"classifier_url"`
	ClassifierTimeout       time.Duration `koanf:"classifier_timeout"`
	ClassifierMinMultiplier float64       `koanf:"classifier_min_multiplier"`
	ClassifierMaxMultiplier float64       `koanf:"classifier_max_multiplier"`

	// ActivityURL points at the activity API. Empty uses the synthetic source.
	ActivityURL      string `koanf:"activity_url"`
	ActivityAttempts int    `koanf:"activity_attempts"`

	// SettlementURL points at the settlement layer. Empty uses the in-memory ledger.
	SettlementURL     string        `koanf:"settlement_url"`
	SettlementTimeout time.Duration `koanf:"settlement_timeout"`

	// MaxSettlementAttempts is the retry ceiling per payout.
	MaxSettlementAttempts int           `koanf:"max_settlement_attempts"`
	RetryInitialInterval  time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval      time.Duration `koanf:"retry_max_interval"`

	// SubmitConcurrency bounds concurrent settlement submissions within an epoch.
	SubmitConcurrency int `koanf:"submit_concurrency"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		DBPath:                  "",
		WorkerCount:             runtime.NumCPU() * 2,
		QueueSize:               10_000,
		DedupeSize:              500_000,
		VerdictCacheSize:        100_000,
		EpochGenesis:            "2025-01-06T00:00:00Z",
		EpochLength:             7 * 24 * time.Hour,
		ScheduleInterval:        0,
		LockPeriod:              30 * 24 * time.Hour,
		EarlyUnstakePenalty:     0.015,
		BaseRateAnnual:          0.04,
		BonusPerPoint:           0.1,
		RewardedRanks:           100,
		SettlementPrecision:     6,
		KindWeights: map[string]float64{
			"merged-change":  1.0,
			"resolved-issue": 0.5,
			"review":         0.3,
		},
		ClassifierTimeout:       2 * time.Second,
		ClassifierMinMultiplier: 0.5,
		ClassifierMaxMultiplier: 1.5,
		ActivityAttempts:        3,
		SettlementTimeout:       10 * time.Second,
		MaxSettlementAttempts:   5,
		RetryInitialInterval:    500 * time.Millisecond,
		RetryMaxInterval:        30 * time.Second,
		SubmitConcurrency:       8,
		MaxLeaderboardLimit:     100,
	}
}

// Genesis parses EpochGenesis.
func (c *Config) Genesis() (time.Time, error) {
	return time.Parse(time.RFC3339, c.EpochGenesis)
}
