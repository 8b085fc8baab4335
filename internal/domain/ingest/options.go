package ingest

import (
	"time"

	"github.com/okian/yieldboard/internal/domain/dedupe"
	"github.com/okian/yieldboard/pkg/logger"
)

// Option applies a configuration option to the Ingester.
type Option func(*Ingester)

// WithDeduper sets the fast-path seen-set shared across passes.
func WithDeduper(d dedupe.Deduper) Option {
	return func(i *Ingester) {
		if d != nil {
			i.deduper = d
		}
	}
}

// WithAttempts sets how many times a failing fetch is tried.
func WithAttempts(n int, interval time.Duration) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.attempts = n
		}
		if interval > 0 {
			i.retryInterval = interval
		}
	}
}

// WithLogger sets a custom logger for the ingester.
func WithLogger(l logger.Logger) Option {
	return func(i *Ingester) {
		if l != nil {
			i.logger = l
		}
	}
}
