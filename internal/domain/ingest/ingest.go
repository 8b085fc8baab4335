// Package ingest pulls contribution records from the activity source into the store.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/okian/yieldboard/internal/domain/dedupe"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/okian/yieldboard/pkg/metrics"
)

const (
	defaultAttempts      = 3
	defaultRetryInterval = 200 * time.Millisecond
)

// Source yields the records of one subject for a window. The subject is the
// identity the source knows the account by. Records may repeat.
type Source interface {
	Fetch(ctx context.Context, subject string, w model.Window) ([]model.ContributionRecord, error)
}

// Store keeps records unique per (account, dedup key).
type Store interface {
	SaveContributions(ctx context.Context, recs []model.ContributionRecord) (int, error)
	ListContributions(ctx context.Context, accountID string, w model.Window) ([]model.ContributionRecord, error)
}

// Result describes one ingestion pass.
type Result struct {
	AccountID  string
	Fetched    int
	Stored     int
	Duplicates int
	Foreign    int
	Malformed  int
	// Gap is set when the source could not be read; Records then holds only
	// what earlier passes stored.
	Gap     bool
	Records []model.ContributionRecord
}

// Ingester fetches, deduplicates and persists contribution records.
type Ingester struct {
	source        Source
	store         Store
	deduper       dedupe.Deduper
	attempts      int
	retryInterval time.Duration
	logger        logger.Logger
}

// New creates an ingester.
func New(source Source, store Store, opts ...Option) *Ingester {
	i := &Ingester{
		source:        source,
		store:         store,
		attempts:      defaultAttempts,
		retryInterval: defaultRetryInterval,
		logger:        logger.Get().Named("ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.deduper == nil {
		i.deduper = dedupe.NewInMemoryDeduper()
	}
	return i
}

// Ingest stores the new records of accountID for w and returns every stored
// record of the window. The source is asked for externalRef when the account
// has a linked identity; records reported under it are stored for accountID.
// A source that keeps failing is a recoverable gap, not an error; store
// failures and cancellation are errors.
func (i *Ingester) Ingest(ctx context.Context, accountID, externalRef string, w model.Window) (*Result, error) {
	res := &Result{AccountID: accountID}
	subject := accountID
	if externalRef != "" {
		subject = externalRef
	}

	fetched, err := i.fetch(ctx, subject, w)
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		res.Gap = true
		metrics.RecordIngestionFailure()
		i.logger.Warn(ctx, "activity fetch failed, scoring from stored records",
			logger.String("account", accountID),
			logger.String("subject", subject),
			logger.String("window_start", w.Start.Format(time.RFC3339)),
			logger.Error(err),
		)
	default:
		res.Fetched = len(fetched)
		if err := i.persist(ctx, accountID, subject, fetched, res); err != nil {
			return nil, err
		}
	}

	recs, err := i.store.ListContributions(ctx, accountID, w)
	if err != nil {
		return nil, fmt.Errorf("list contributions %s: %w", accountID, err)
	}
	res.Records = recs
	return res, nil
}

func (i *Ingester) fetch(ctx context.Context, subject string, w model.Window) ([]model.ContributionRecord, error) {
	var out []model.ContributionRecord
	op := func() error {
		recs, err := i.source.Fetch(ctx, subject, w)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		out = recs
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.retryInterval
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(i.attempts-1)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return out, nil
}

func (i *Ingester) persist(ctx context.Context, accountID, subject string, fetched []model.ContributionRecord, res *Result) error {
	fresh := make([]model.ContributionRecord, 0, len(fetched))
	var keys []string
	for _, rec := range fetched {
		if rec.AccountID == subject {
			rec.AccountID = accountID
		}
		if rec.AccountID != accountID {
			res.Foreign++
			metrics.RecordRecordSkipped("account_mismatch")
			continue
		}
		if rec.DedupKey == "" {
			res.Malformed++
			metrics.RecordRecordSkipped("empty_key")
			continue
		}
		key := dedupe.Key(accountID, rec.DedupKey)
		if i.deduper.SeenAndRecord(ctx, key) {
			res.Duplicates++
			continue
		}
		keys = append(keys, key)
		fresh = append(fresh, rec)
	}

	stored, err := i.store.SaveContributions(ctx, fresh)
	if err != nil {
		for _, key := range keys {
			i.deduper.Unrecord(ctx, key)
		}
		return fmt.Errorf("save contributions %s: %w", accountID, err)
	}
	res.Stored = stored
	res.Duplicates += len(fresh) - stored

	metrics.RecordRecordsIngested(stored)
	metrics.RecordRecordsDuplicate(res.Duplicates)
	return nil
}
