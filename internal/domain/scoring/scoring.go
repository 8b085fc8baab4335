// Package scoring turns an account's contribution records for an epoch into a
// deterministic score.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"github.com/okian/yieldboard/internal/domain/dedupe"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/okian/yieldboard/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Default scoring configuration constants.
const (
	defaultMinMultiplier = 0.5
	defaultMaxMultiplier = 1.5
	defaultAttempts      = 2
	defaultRetryInterval = 50 * time.Millisecond
	defaultCacheSize     = 100_000

	// scorePlaces is the precision a score is rounded to after summation.
	scorePlaces = 9
)

// Skip reasons for malformed records.
const (
	SkipEmptyKey        = "empty_key"
	SkipUnknownKind     = "unknown_kind"
	SkipBadWeight       = "bad_weight"
	SkipOutsideWindow   = "outside_window"
	SkipAccountMismatch = "account_mismatch"
)

// Result is the outcome of scoring one account for one epoch.
type Result struct {
	AccountID  string
	Score      decimal.Decimal
	Counted    int
	Duplicates int
	Skipped    map[string]int
	Degraded   bool
}

// SkippedTotal returns the number of malformed records dropped.
func (r Result) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// Scorer computes epoch scores as a weighted sum over record kinds.
type Scorer struct {
	weights       map[string]decimal.Decimal
	classifier    Classifier
	minMultiplier float64
	maxMultiplier float64
	attempts      int
	retryInterval time.Duration
	cacheSize     int
	verdicts      *lru.Cache // dedupe.Key -> float64
	logger        logger.Logger
}

// NewScorer creates a scorer with the default kind weights and a no-op classifier.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		classifier:    NoopClassifier{},
		minMultiplier: defaultMinMultiplier,
		maxMultiplier: defaultMaxMultiplier,
		attempts:      defaultAttempts,
		retryInterval: defaultRetryInterval,
		cacheSize:     defaultCacheSize,
		logger:        logger.Get().Named("scoring"),
	}
	WithKindWeights(map[string]float64{
		model.KindMergedChange:  1.0,
		model.KindResolvedIssue: 0.5,
		model.KindReview:        0.3,
	})(s)

	for _, opt := range opts {
		opt(s)
	}

	if s.cacheSize > 0 {
		s.verdicts, _ = lru.New(s.cacheSize)
	}
	return s
}

// ScoreEpoch scores records of accountID inside window. Malformed records are
// skipped and counted; replays of a dedup key count once. The result depends
// only on the record set and the classifier verdicts, never on input order.
// The only error is context cancellation.
func (s *Scorer) ScoreEpoch(ctx context.Context, accountID string, window model.Window, records []model.ContributionRecord) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordScoringLatency(float64(time.Since(start).Milliseconds()))
	}()

	res := Result{AccountID: accountID, Score: decimal.Zero, Skipped: map[string]int{}}

	sorted := make([]model.ContributionRecord, len(records))
	copy(sorted, records)
	model.SortRecords(sorted)

	valid := make([]model.ContributionRecord, 0, len(sorted))
	seen := make(map[string]struct{}, len(sorted))
	for _, rec := range sorted {
		if reason := s.validate(accountID, window, rec); reason != "" {
			res.Skipped[reason]++
			metrics.RecordRecordSkipped(reason)
			continue
		}
		if _, dup := seen[rec.DedupKey]; dup {
			res.Duplicates++
			continue
		}
		seen[rec.DedupKey] = struct{}{}
		valid = append(valid, rec)
	}
	if res.Duplicates > 0 {
		metrics.RecordRecordsDuplicate(res.Duplicates)
	}

	multipliers, err := s.classify(ctx, accountID, valid)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("score %s: %w", accountID, ctx.Err())
		}
		res.Degraded = true
		metrics.RecordScoringDegraded()
		s.logger.Warn(ctx, "classifier unavailable, scoring at base weight",
			logger.Bool("scoring.degraded", true),
			logger.String("account", accountID),
			logger.Error(err),
		)
	}

	total := decimal.Zero
	for i, rec := range valid {
		w := s.weights[rec.Kind].Mul(decimal.NewFromFloat(rec.Weight))
		if multipliers != nil {
			w = w.Mul(decimal.NewFromFloat(multipliers[i]))
		}
		total = total.Add(w)
	}
	res.Score = total.Round(scorePlaces)
	res.Counted = len(valid)
	return res, nil
}

func (s *Scorer) validate(accountID string, window model.Window, rec model.ContributionRecord) string {
	switch {
	case rec.DedupKey == "":
		return SkipEmptyKey
	case rec.AccountID != "" && rec.AccountID != accountID:
		return SkipAccountMismatch
	case math.IsNaN(rec.Weight) || math.IsInf(rec.Weight, 0) || rec.Weight <= 0:
		return SkipBadWeight
	case rec.SourceTime.IsZero() || !window.Contains(rec.SourceTime):
		return SkipOutsideWindow
	}
	if _, ok := s.weights[rec.Kind]; !ok {
		return SkipUnknownKind
	}
	return ""
}

// classify returns one clamped multiplier per record, or an error when any
// verdict is unavailable, in which case the whole account scores at base weight.
func (s *Scorer) classify(ctx context.Context, accountID string, recs []model.ContributionRecord) ([]float64, error) {
	out := make([]float64, len(recs))
	for i, rec := range recs {
		key := dedupe.Key(accountID, rec.DedupKey)
		if s.verdicts != nil {
			if v, ok := s.verdicts.Get(key); ok {
				out[i] = v.(float64)
				continue
			}
		}
		m, err := s.verdict(ctx, rec)
		if err != nil {
			return nil, err
		}
		out[i] = m
		if s.verdicts != nil {
			s.verdicts.Add(key, m)
		}
	}
	return out, nil
}

func (s *Scorer) verdict(ctx context.Context, rec model.ContributionRecord) (float64, error) {
	var m float64
	op := func() error {
		v, err := s.classifier.Classify(ctx, rec)
		if err != nil {
			return err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return backoff.Permanent(fmt.Errorf("%w: verdict %v", ErrClassifierUnavailable, v))
		}
		m = math.Max(s.minMultiplier, math.Min(s.maxMultiplier, v))
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryInterval), uint64(s.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return 0, err
	}
	return m, nil
}
