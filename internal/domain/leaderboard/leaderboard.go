// Package leaderboard ranks epoch scores and publishes immutable snapshots.
package leaderboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/pkg/keylock"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/okian/yieldboard/pkg/metrics"
)

const defaultCacheSize = 64

// Store persists snapshots. GetSnapshot returns nil, nil for an open epoch.
// SaveSnapshot must fail when a snapshot for the epoch already exists.
type Store interface {
	GetSnapshot(ctx context.Context, epochID model.EpochID) (*model.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
}

// Leaderboard closes epochs and serves ranked reads from their snapshots.
type Leaderboard struct {
	store     Store
	locks     *keylock.Locker
	cacheSize int
	cache     *lru.Cache // model.EpochID -> *model.Snapshot
	now       func() time.Time
	logger    logger.Logger
}

// New creates a leaderboard over store.
func New(store Store, opts ...Option) *Leaderboard {
	l := &Leaderboard{
		store:     store,
		locks:     keylock.New(),
		cacheSize: defaultCacheSize,
		now:       time.Now,
		logger:    logger.Get().Named("leaderboard"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.cache, _ = lru.New(l.cacheSize)
	return l
}

// CloseEpoch ranks the complete score set of epochID and persists the snapshot.
// Closing again with an identical set returns the stored snapshot; any other
// set fails with ErrEpochAlreadyClosed. Concurrent closes of one epoch are
// serialized and the first caller wins.
func (l *Leaderboard) CloseEpoch(ctx context.Context, epochID model.EpochID, scores []model.EpochScore) (*model.Snapshot, error) {
	if err := validate(epochID, scores); err != nil {
		return nil, err
	}
	digest := Digest(scores)

	unlock := l.locks.Lock(strconv.FormatUint(epochID, 10))
	defer unlock()

	existing, err := l.Snapshot(ctx, epochID)
	switch {
	case err == nil:
		return l.reclose(ctx, existing, digest)
	case !errors.Is(err, ErrEpochNotClosed):
		return nil, err
	}

	snap := &model.Snapshot{
		EpochID:  epochID,
		Digest:   digest,
		Entries:  rank(scores),
		ClosedAt: l.now().UTC(),
	}
	if err := l.store.SaveSnapshot(ctx, snap); err != nil {
		// Another process may have closed the epoch between read and write.
		if stored, gerr := l.store.GetSnapshot(ctx, epochID); gerr == nil && stored != nil {
			l.cache.Add(epochID, stored)
			return l.reclose(ctx, stored, digest)
		}
		return nil, fmt.Errorf("close epoch %d: %w", epochID, err)
	}
	l.cache.Add(epochID, snap)

	metrics.RecordLeaderboardClose(epochID, len(snap.Entries))
	l.logger.Info(ctx, "epoch closed",
		logger.Uint64("epoch", epochID),
		logger.Int("ranked", len(snap.Entries)),
		logger.String("digest", digest),
	)
	return snap, nil
}

func (l *Leaderboard) reclose(ctx context.Context, existing *model.Snapshot, digest string) (*model.Snapshot, error) {
	if existing.Digest == digest {
		return existing, nil
	}
	metrics.RecordLeaderboardReject()
	l.logger.Warn(ctx, "rejected close of a closed epoch with a different score set",
		logger.Uint64("epoch", existing.EpochID),
		logger.String("digest", digest),
		logger.String("stored_digest", existing.Digest),
	)
	return nil, fmt.Errorf("%w: epoch %d", ErrEpochAlreadyClosed, existing.EpochID)
}

// Snapshot returns the snapshot of a closed epoch or ErrEpochNotClosed.
func (l *Leaderboard) Snapshot(ctx context.Context, epochID model.EpochID) (*model.Snapshot, error) {
	if v, ok := l.cache.Get(epochID); ok {
		return v.(*model.Snapshot), nil
	}
	snap, err := l.store.GetSnapshot(ctx, epochID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %d: %w", epochID, err)
	}
	if snap == nil {
		return nil, ErrEpochNotClosed
	}
	l.cache.Add(epochID, snap)
	return snap, nil
}

// TopN returns the first n ranked entries of a closed epoch, or fewer if the
// snapshot is smaller.
func (l *Leaderboard) TopN(ctx context.Context, epochID model.EpochID, n int) ([]model.RankedEntry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	snap, err := l.Snapshot(ctx, epochID)
	if err != nil {
		return nil, err
	}
	return snap.Top(n), nil
}

// Rank returns the entry of accountID in a closed epoch.
func (l *Leaderboard) Rank(ctx context.Context, epochID model.EpochID, accountID string) (model.RankedEntry, error) {
	snap, err := l.Snapshot(ctx, epochID)
	if err != nil {
		return model.RankedEntry{}, err
	}
	e, ok := snap.Find(accountID)
	if !ok {
		return model.RankedEntry{}, ErrNotRanked
	}
	return e, nil
}

func validate(epochID model.EpochID, scores []model.EpochScore) error {
	seen := make(map[string]struct{}, len(scores))
	for _, s := range scores {
		if s.EpochID != epochID {
			return fmt.Errorf("%w: score of %s belongs to epoch %d", ErrInvalidScores, s.AccountID, s.EpochID)
		}
		if s.AccountID == "" {
			return fmt.Errorf("%w: empty account id", ErrInvalidScores)
		}
		if _, dup := seen[s.AccountID]; dup {
			return fmt.Errorf("%w: duplicate account %s", ErrInvalidScores, s.AccountID)
		}
		seen[s.AccountID] = struct{}{}
	}
	return nil
}

// Digest hashes the canonical form of a score set. Input order does not matter.
func Digest(scores []model.EpochScore) string {
	lines := make([]string, len(scores))
	for i, s := range scores {
		lines[i] = s.AccountID + "\t" + s.Score.String() + "\t" + s.AccountCreatedAt.UTC().Format(time.RFC3339Nano)
	}
	sort.Strings(lines)
	h := sha256.New()
	for _, line := range lines {
		_, _ = h.Write([]byte(line))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
