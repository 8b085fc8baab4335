package activity

import (
	"time"

	"github.com/okian/yieldboard/pkg/logger"
)

// Option applies a configuration option to the HTTPSource.
type Option func(*HTTPSource)

// WithTimeout bounds a single fetch.
func WithTimeout(d time.Duration) Option {
	return func(s *HTTPSource) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// WithLogger sets a custom logger for the source.
func WithLogger(l logger.Logger) Option {
	return func(s *HTTPSource) {
		if l != nil {
			s.logger = l
		}
	}
}
