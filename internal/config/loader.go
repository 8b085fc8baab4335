package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "YIELDBOARD_"
	envConfig  = "YIELDBOARD_CONFIG"
	maxPenalty = 1.0
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if YIELDBOARD_CONFIG is set
//  3. env (prefix YIELDBOARD_)
func Load(_ context.Context) (*Config, error) {
	return LoadFile(os.Getenv(envConfig))
}

// LoadFile is Load with an explicit file path; an empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// YIELDBOARD_WORKER_COUNT -> worker_count (flat keys, underscores kept)
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		if s == envConfig {
			return ""
		}
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.EpochLength <= 0:
		return fmt.Errorf("%w: epoch_length must be positive", ErrInvalidConfig)
	case c.LockPeriod < 0:
		return fmt.Errorf("%w: lock_period must not be negative", ErrInvalidConfig)
	case c.EarlyUnstakePenalty < 0 || c.EarlyUnstakePenalty >= maxPenalty:
		return fmt.Errorf("%w: early_unstake_penalty must be in [0, 1)", ErrInvalidConfig)
	case c.BaseRateAnnual < 0 || c.BonusPerPoint < 0:
		return fmt.Errorf("%w: rates must not be negative", ErrInvalidConfig)
	case c.SettlementPrecision < 0:
		return fmt.Errorf("%w: settlement_precision must not be negative", ErrInvalidConfig)
	case c.MaxSettlementAttempts < 1:
		return fmt.Errorf("%w: max_settlement_attempts must be at least 1", ErrInvalidConfig)
	case c.ClassifierMinMultiplier <= 0 || c.ClassifierMaxMultiplier < c.ClassifierMinMultiplier:
		return fmt.Errorf("%w: classifier multiplier range is empty", ErrInvalidConfig)
	case len(c.KindWeights) == 0:
		return fmt.Errorf("%w: kind_weights must define at least one kind", ErrInvalidConfig)
	}
	if _, err := c.Genesis(); err != nil {
		return fmt.Errorf("%w: epoch_genesis: %w", ErrInvalidConfig, err)
	}
	return nil
}
