package ledger

import (
	"time"

	"github.com/okian/yieldboard/pkg/logger"
	"github.com/shopspring/decimal"
)

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithLockPeriod sets the penalty-free withdrawal delay.
func WithLockPeriod(d time.Duration) Option {
	return func(l *Ledger) {
		if d >= 0 {
			l.lockPeriod = d
		}
	}
}

// WithPenaltyRate sets the fraction withheld on early withdrawal.
func WithPenaltyRate(rate float64) Option {
	return func(l *Ledger) {
		if rate >= 0 && rate < 1 {
			l.penaltyRate = decimal.NewFromFloat(rate)
		}
	}
}

// WithPrecision sets the decimal places of the settlement minimum unit.
func WithPrecision(places int32) Option {
	return func(l *Ledger) {
		if places >= 0 {
			l.precision = places
		}
	}
}

// WithClock overrides the time source used for lock comparisons.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator overrides withdrawal id generation.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the ledger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.logger = lg
		}
	}
}
