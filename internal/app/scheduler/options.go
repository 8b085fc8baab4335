package scheduler

import (
	"time"

	"github.com/okian/yieldboard/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithEpochs sets the genesis and epoch length used to derive windows.
func WithEpochs(genesis time.Time, length time.Duration) Option {
	return func(s *Scheduler) {
		if length > 0 {
			s.genesis = genesis.UTC()
			s.epochLength = length
		}
	}
}

// WithMaxAttempts sets the settlement attempt ceiling per record.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the exponential backoff bounds between attempts.
func WithRetryBackoff(initial, maxInterval time.Duration) Option {
	return func(s *Scheduler) {
		if initial > 0 && maxInterval >= initial {
			s.retryInitial = initial
			s.retryMax = maxInterval
		}
	}
}

// WithSubmitConcurrency bounds parallel settlement submissions.
func WithSubmitConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSubmitTimeout bounds one settlement call.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.submitTimeout = d
		}
	}
}

// WithInterval enables the time-based trigger.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
