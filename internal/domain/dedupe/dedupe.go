// Package dedupe defines the interface for idempotency tracking.
package dedupe

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
)

// defaultMaxSize bounds the seen-set when no size is configured.
const defaultMaxSize = 50000

// Deduper records seen contribution keys so replays are dropped before they
// reach the store. It is a fast path only: an evicted key falls through to the
// store's unique index, which stays authoritative.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen list, allowing it to be retried.
	// Used when a record was marked as seen but failed to persist.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// Key scopes a dedup key to its account; keys are only unique per account.
func Key(accountID, dedupKey string) string {
	return accountID + "/" + dedupKey
}

// lruDeduper implements Deduper over a bounded LRU.
type lruDeduper struct {
	maxSize int
	seen    *lru.Cache
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &lruDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	// lru.New only fails on a non-positive size, which options rule out.
	d.seen, _ = lru.New(d.maxSize)
	return d
}

func (d *lruDeduper) SeenAndRecord(_ context.Context, id string) bool {
	seen, _ := d.seen.ContainsOrAdd(id, struct{}{})
	return seen
}

func (d *lruDeduper) Unrecord(_ context.Context, id string) {
	d.seen.Remove(id)
}

// Size returns the current number of entries in the deduper.
func (d *lruDeduper) Size() int64 {
	return int64(d.seen.Len())
}
