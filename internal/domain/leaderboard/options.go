package leaderboard

import (
	"time"

	"github.com/okian/yieldboard/pkg/logger"
)

// Option applies a configuration option to the Leaderboard.
type Option func(*Leaderboard)

// WithCacheSize sets how many closed snapshots are kept in memory.
func WithCacheSize(n int) Option {
	return func(l *Leaderboard) {
		if n > 0 {
			l.cacheSize = n
		}
	}
}

// WithClock overrides the close timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Leaderboard) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets a custom logger for the leaderboard.
func WithLogger(lg logger.Logger) Option {
	return func(l *Leaderboard) {
		if lg != nil {
			l.logger = lg
		}
	}
}
