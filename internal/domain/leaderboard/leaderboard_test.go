package leaderboard_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/yieldboard/internal/domain/leaderboard"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

// memStore is a map-backed snapshot store that enforces one snapshot per epoch.
type memStore struct {
	mu    sync.Mutex
	snaps map[model.EpochID]*model.Snapshot
	saves int
}

func newMemStore() *memStore {
	return &memStore{snaps: map[model.EpochID]*model.Snapshot{}}
}

func (m *memStore) GetSnapshot(_ context.Context, id model.EpochID) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[id], nil
}

func (m *memStore) SaveSnapshot(_ context.Context, s *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snaps[s.EpochID]; ok {
		return errors.New("unique constraint failed")
	}
	m.snaps[s.EpochID] = s
	m.saves++
	return nil
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func score(id string, pts string, createdOffsetDays int) model.EpochScore {
	return model.EpochScore{
		AccountID:        id,
		EpochID:          1,
		Score:            decimal.RequireFromString(pts),
		AccountCreatedAt: base.AddDate(0, 0, createdOffsetDays),
	}
}

func TestCloseEpoch(t *testing.T) {
	Convey("Given a leaderboard", t, func() {
		ctx := context.Background()
		store := newMemStore()
		lb := leaderboard.New(store)

		scores := []model.EpochScore{
			score("carol", "5", 2),
			score("alice", "10", 3),
			score("dave", "5", 1),
			score("bob", "5", 1),
			score("erin", "0", 0),
		}

		Convey("When closing an epoch", func() {
			snap, err := lb.CloseEpoch(ctx, 1, scores)

			Convey("Then ranks should follow score, account age, then id", func() {
				So(err, ShouldBeNil)
				ids := make([]string, len(snap.Entries))
				for i, e := range snap.Entries {
					ids[i] = e.AccountID
					So(e.Rank, ShouldEqual, i+1)
				}
				So(ids, ShouldResemble, []string{"alice", "bob", "dave", "carol", "erin"})
			})
		})

		Convey("When closing twice with the same set in another order", func() {
			first, err := lb.CloseEpoch(ctx, 1, scores)
			So(err, ShouldBeNil)
			reordered := []model.EpochScore{scores[4], scores[2], scores[0], scores[3], scores[1]}
			second, err := lb.CloseEpoch(ctx, 1, reordered)

			Convey("Then it should be a no-op returning the same snapshot", func() {
				So(err, ShouldBeNil)
				So(second.Digest, ShouldEqual, first.Digest)
				So(second.Entries, ShouldResemble, first.Entries)
				So(store.saves, ShouldEqual, 1)
			})
		})

		Convey("When closing again with a different set", func() {
			_, err := lb.CloseEpoch(ctx, 1, scores)
			So(err, ShouldBeNil)
			tampered := append([]model.EpochScore{}, scores...)
			tampered[4] = score("erin", "50", 0)
			_, err = lb.CloseEpoch(ctx, 1, tampered)

			Convey("Then it should fail with EpochAlreadyClosed", func() {
				So(errors.Is(err, leaderboard.ErrEpochAlreadyClosed), ShouldBeTrue)
				snap, _ := lb.Snapshot(ctx, 1)
				So(snap.Entries[0].AccountID, ShouldEqual, "alice")
			})
		})

		Convey("When another instance closed the epoch first", func() {
			other := leaderboard.New(store)
			_, err := other.CloseEpoch(ctx, 1, scores[:2])
			So(err, ShouldBeNil)
			_, err = lb.CloseEpoch(ctx, 1, scores)

			Convey("Then the stored snapshot should win", func() {
				So(errors.Is(err, leaderboard.ErrEpochAlreadyClosed), ShouldBeTrue)
			})
		})

		Convey("When the score set is inconsistent", func() {
			dup := []model.EpochScore{score("a", "1", 0), score("a", "2", 0)}
			_, err1 := lb.CloseEpoch(ctx, 1, dup)
			wrong := score("a", "1", 0)
			wrong.EpochID = 2
			_, err2 := lb.CloseEpoch(ctx, 1, []model.EpochScore{wrong})

			Convey("Then it should be rejected before anything is stored", func() {
				So(errors.Is(err1, leaderboard.ErrInvalidScores), ShouldBeTrue)
				So(errors.Is(err2, leaderboard.ErrInvalidScores), ShouldBeTrue)
				So(store.saves, ShouldEqual, 0)
			})
		})

		Convey("When many callers close the same epoch concurrently", func() {
			var wg sync.WaitGroup
			errs := make([]error, 8)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					set := scores
					if i%2 == 1 {
						set = append([]model.EpochScore{}, scores...)
						set[0] = score("carol", fmt.Sprintf("%d", 100+i), 2)
					}
					_, errs[i] = lb.CloseEpoch(ctx, 1, set)
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one snapshot should be persisted", func() {
				So(store.saves, ShouldEqual, 1)
				ok := 0
				for _, err := range errs {
					if err == nil {
						ok++
					} else {
						So(errors.Is(err, leaderboard.ErrEpochAlreadyClosed), ShouldBeTrue)
					}
				}
				So(ok, ShouldBeGreaterThanOrEqualTo, 1)
			})
		})
	})
}

func TestReads(t *testing.T) {
	Convey("Given a closed epoch of a thousand accounts", t, func() {
		ctx := context.Background()
		lb := leaderboard.New(newMemStore())
		scores := make([]model.EpochScore, 1000)
		for i := range scores {
			scores[i] = score(fmt.Sprintf("acct-%04d", i), fmt.Sprintf("%d", i%37), i%5)
		}
		_, err := lb.CloseEpoch(ctx, 1, scores)
		So(err, ShouldBeNil)

		Convey("Then ranks should be a dense 1..N sequence", func() {
			snap, err := lb.Snapshot(ctx, 1)
			So(err, ShouldBeNil)
			So(len(snap.Entries), ShouldEqual, 1000)
			seen := map[string]bool{}
			for i, e := range snap.Entries {
				So(e.Rank, ShouldEqual, i+1)
				So(seen[e.AccountID], ShouldBeFalse)
				seen[e.AccountID] = true
				if i > 0 {
					So(e.Score.LessThanOrEqual(snap.Entries[i-1].Score), ShouldBeTrue)
				}
			}
		})

		Convey("Then TopN should return at most n entries", func() {
			top, err := lb.TopN(ctx, 1, 10)
			So(err, ShouldBeNil)
			So(len(top), ShouldEqual, 10)
			all, err := lb.TopN(ctx, 1, 5000)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 1000)
			_, err = lb.TopN(ctx, 1, 0)
			So(errors.Is(err, leaderboard.ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("Then Rank should find ranked accounts only", func() {
			e, err := lb.Rank(ctx, 1, "acct-0036")
			So(err, ShouldBeNil)
			So(e.Score.String(), ShouldEqual, "36")
			_, err = lb.Rank(ctx, 1, "nobody")
			So(errors.Is(err, leaderboard.ErrNotRanked), ShouldBeTrue)
		})

		Convey("Then reads of an open epoch should fail", func() {
			_, err := lb.TopN(ctx, 2, 10)
			So(errors.Is(err, leaderboard.ErrEpochNotClosed), ShouldBeTrue)
		})
	})
}
