package scoring

import (
	"context"

	"github.com/okian/yieldboard/internal/domain/model"
)

// Classifier adjusts the effective weight of a single record. It returns a
// multiplier or ErrClassifierUnavailable.
type Classifier interface {
	Classify(ctx context.Context, rec model.ContributionRecord) (float64, error)
}

// NoopClassifier leaves every record at its base weight.
type NoopClassifier struct{}

// Classify implements Classifier.
func (NoopClassifier) Classify(context.Context, model.ContributionRecord) (float64, error) {
	return 1, nil
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, rec model.ContributionRecord) (float64, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, rec model.ContributionRecord) (float64, error) {
	return f(ctx, rec)
}
