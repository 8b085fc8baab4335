package service

import (
	"time"

	"github.com/okian/yieldboard/internal/domain/ingest"
	"github.com/okian/yieldboard/internal/domain/scoring"
	"github.com/okian/yieldboard/internal/domain/settlement"
	"github.com/okian/yieldboard/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithActivitySource replaces the source selected from configuration.
func WithActivitySource(src ingest.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithClassifier replaces the classifier selected from configuration.
func WithClassifier(c scoring.Classifier) Option {
	return func(s *Service) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithSettler replaces the settlement layer selected from configuration.
func WithSettler(st settlement.Settler) Option {
	return func(s *Service) {
		if st != nil {
			s.settler = st
		}
	}
}

// WithClock overrides the time source of the ledger and the scheduler.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
