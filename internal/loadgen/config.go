// Package loadgen drives a running yieldboard server: it stakes a population
// of accounts, optionally runs an epoch and checks the resulting leaderboard.
package loadgen

import (
	"errors"
	"time"
)

// Error constants
var (
	ErrInvalidConfig = errors.New("loadgen: invalid config")
	ErrUnhealthy     = errors.New("loadgen: service unhealthy")
	ErrInconsistent  = errors.New("loadgen: leaderboard inconsistent")
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Accounts    int           // Number of accounts to stake
	UnstakeEach int           // Every n-th account unstakes half its stake; 0 disables
	Workers     int           // Number of concurrent requests
	Timeout     time.Duration // HTTP request timeout
	TopN        int           // Leaderboard entries to fetch
	RunEpoch    *uint64       // Epoch to run after staking, if any
	Verbose     bool
}

// Stats holds run statistics.
type Stats struct {
	Staked             int
	StakeFailed        int
	Unstaked           int
	UnstakeFailed      int
	RanksRetrieved     int
	Unranked           int
	LeaderboardEntries int
	Duration           time.Duration
}

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url must not be empty"))
	case c.Accounts <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("accounts must be positive"))
	case c.Workers <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("workers must be positive"))
	case c.UnstakeEach < 0:
		return errors.Join(ErrInvalidConfig, errors.New("unstake-each must not be negative"))
	}
	return nil
}
