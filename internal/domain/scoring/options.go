package scoring

import (
	"time"

	"github.com/okian/yieldboard/pkg/logger"
	"github.com/shopspring/decimal"
)

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithKindWeights sets the per-kind base weight table. Non-positive weights
// are ignored, which makes records of that kind malformed.
func WithKindWeights(weights map[string]float64) Option {
	return func(s *Scorer) {
		s.weights = make(map[string]decimal.Decimal, len(weights))
		for kind, w := range weights {
			if w > 0 {
				s.weights[kind] = decimal.NewFromFloat(w)
			}
		}
	}
}

// WithClassifier sets the qualitative classifier.
func WithClassifier(c Classifier) Option {
	return func(s *Scorer) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithMultiplierRange bounds classifier verdicts.
func WithMultiplierRange(lo, hi float64) Option {
	return func(s *Scorer) {
		if lo > 0 && hi >= lo {
			s.minMultiplier = lo
			s.maxMultiplier = hi
		}
	}
}

// WithClassifierAttempts sets how many times a failing verdict is retried
// before the account falls back to base weights.
func WithClassifierAttempts(n int, interval time.Duration) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.attempts = n
		}
		if interval >= 0 {
			s.retryInterval = interval
		}
	}
}

// WithVerdictCacheSize bounds the verdict cache. Zero disables it.
func WithVerdictCacheSize(n int) Option {
	return func(s *Scorer) {
		s.cacheSize = n
	}
}

// WithLogger sets a custom logger for the scorer.
func WithLogger(l logger.Logger) Option {
	return func(s *Scorer) {
		if l != nil {
			s.logger = l
		}
	}
}
