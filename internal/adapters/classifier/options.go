package classifier

import (
	"time"

	"github.com/okian/yieldboard/pkg/logger"
)

// Option applies a configuration option to the HTTPClassifier.
type Option func(*HTTPClassifier)

// WithTimeout bounds a single classify call.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClassifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets how many times a failed call is retried by the transport.
func WithRetries(n int) Option {
	return func(c *HTTPClassifier) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithBackoff sets the wait bounds between transport retries.
func WithBackoff(lo, hi time.Duration) Option {
	return func(c *HTTPClassifier) {
		if lo > 0 && hi >= lo {
			c.minBackoff, c.maxBackoff = lo, hi
		}
	}
}

// WithLogger sets a custom logger for the classifier.
func WithLogger(l logger.Logger) Option {
	return func(c *HTTPClassifier) {
		if l != nil {
			c.logger = l
		}
	}
}
