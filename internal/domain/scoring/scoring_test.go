package scoring_test

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/yieldboard/internal/domain/model"
	scoring "github.com/okian/yieldboard/internal/domain/scoring"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	genesis = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	week    = 7 * 24 * time.Hour
	epoch1  = model.EpochWindow(genesis, week, 1)
)

func rec(key, kind string, weight float64, offset time.Duration) model.ContributionRecord {
	return model.ContributionRecord{
		AccountID:  "acct-a",
		Kind:       kind,
		Weight:     weight,
		SourceTime: epoch1.Start.Add(offset),
		DedupKey:   key,
	}
}

func sampleRecords() []model.ContributionRecord {
	return []model.ContributionRecord{
		rec("pr-1", model.KindMergedChange, 1, time.Hour),
		rec("pr-2", model.KindMergedChange, 2, 2*time.Hour),
		rec("issue-9", model.KindResolvedIssue, 1, 3*time.Hour),
		rec("review-4", model.KindReview, 1, 4*time.Hour),
		rec("review-5", model.KindReview, 0.5, 5*time.Hour),
	}
}

func TestScoreEpoch(t *testing.T) {
	Convey("Given a scorer with the default weight table", t, func() {
		ctx := context.Background()
		s := scoring.NewScorer(scoring.WithKindWeights(map[string]float64{
			model.KindMergedChange:  1.0,
			model.KindResolvedIssue: 0.5,
			model.KindReview:        0.3,
		}))

		Convey("When scoring ten merged changes", func() {
			var recs []model.ContributionRecord
			for i := 0; i < 10; i++ {
				recs = append(recs, rec(string(rune('a'+i)), model.KindMergedChange, 1, time.Duration(i)*time.Hour))
			}
			res, err := s.ScoreEpoch(ctx, "acct-a", epoch1, recs)

			Convey("Then the score should be ten points", func() {
				So(err, ShouldBeNil)
				So(res.Score.Equal(decimal.NewFromInt(10)), ShouldBeTrue)
				So(res.Counted, ShouldEqual, 10)
				So(res.Degraded, ShouldBeFalse)
			})
		})

		Convey("When scoring a mixed record set", func() {
			res, err := s.ScoreEpoch(ctx, "acct-a", epoch1, sampleRecords())

			Convey("Then it should be the weighted sum", func() {
				So(err, ShouldBeNil)
				// 1 + 2 + 0.5 + 0.3 + 0.15
				So(res.Score.String(), ShouldEqual, "3.95")
			})
		})

		Convey("When the same records arrive in a different order", func() {
			first, err := s.ScoreEpoch(ctx, "acct-a", epoch1, sampleRecords())
			So(err, ShouldBeNil)

			shuffled := sampleRecords()
			r := rand.New(rand.NewSource(7))
			for i := 0; i < 20; i++ {
				r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
				again, err := s.ScoreEpoch(ctx, "acct-a", epoch1, shuffled)
				So(err, ShouldBeNil)
				So(again.Score.Equal(first.Score), ShouldBeTrue)
			}
		})

		Convey("When a dedup key is replayed", func() {
			once, err := s.ScoreEpoch(ctx, "acct-a", epoch1, sampleRecords())
			So(err, ShouldBeNil)
			replayed := append(sampleRecords(), rec("pr-2", model.KindMergedChange, 2, 2*time.Hour))
			twice, err := s.ScoreEpoch(ctx, "acct-a", epoch1, replayed)

			Convey("Then it should count once", func() {
				So(err, ShouldBeNil)
				So(twice.Score.Equal(once.Score), ShouldBeTrue)
				So(twice.Duplicates, ShouldEqual, 1)
			})
		})

		Convey("When malformed records are present", func() {
			recs := append(sampleRecords(),
				rec("", model.KindMergedChange, 1, time.Hour),
				rec("x-1", "tweet", 1, time.Hour),
				rec("x-2", model.KindMergedChange, -1, time.Hour),
				rec("x-3", model.KindMergedChange, 1, -time.Hour),
				rec("x-4", model.KindMergedChange, 1, week),
			)
			other := rec("x-5", model.KindMergedChange, 1, time.Hour)
			other.AccountID = "acct-b"
			recs = append(recs, other)

			res, err := s.ScoreEpoch(ctx, "acct-a", epoch1, recs)

			Convey("Then they should be skipped and counted by reason", func() {
				So(err, ShouldBeNil)
				So(res.Score.String(), ShouldEqual, "3.95")
				So(res.SkippedTotal(), ShouldEqual, 6)
				So(res.Skipped[scoring.SkipEmptyKey], ShouldEqual, 1)
				So(res.Skipped[scoring.SkipUnknownKind], ShouldEqual, 1)
				So(res.Skipped[scoring.SkipBadWeight], ShouldEqual, 1)
				So(res.Skipped[scoring.SkipOutsideWindow], ShouldEqual, 2)
				So(res.Skipped[scoring.SkipAccountMismatch], ShouldEqual, 1)
			})
		})

		Convey("When there are no records", func() {
			res, err := s.ScoreEpoch(ctx, "acct-a", epoch1, nil)

			Convey("Then the score should be zero", func() {
				So(err, ShouldBeNil)
				So(res.Score.IsZero(), ShouldBeTrue)
			})
		})
	})
}

func TestScoreEpochClassifier(t *testing.T) {
	Convey("Given a scorer with a qualitative classifier", t, func() {
		ctx := context.Background()

		Convey("When verdicts fall outside the allowed range", func() {
			s := scoring.NewScorer(
				scoring.WithMultiplierRange(0.5, 1.5),
				scoring.WithClassifier(scoring.ClassifierFunc(func(_ context.Context, r model.ContributionRecord) (float64, error) {
					if r.DedupKey == "pr-1" {
						return 3, nil
					}
					return 0.1, nil
				})),
			)
			recs := []model.ContributionRecord{
				rec("pr-1", model.KindMergedChange, 1, time.Hour),
				rec("pr-2", model.KindMergedChange, 1, time.Hour),
			}
			res, err := s.ScoreEpoch(ctx, "acct-a", epoch1, recs)

			Convey("Then they should be clamped", func() {
				So(err, ShouldBeNil)
				So(res.Score.String(), ShouldEqual, "2")
			})
		})

		Convey("When the classifier is unavailable", func() {
			s := scoring.NewScorer(
				scoring.WithClassifierAttempts(2, 0),
				scoring.WithClassifier(scoring.ClassifierFunc(func(_ context.Context, r model.ContributionRecord) (float64, error) {
					if r.DedupKey == "review-5" {
						return 0, scoring.ErrClassifierUnavailable
					}
					return 1.5, nil
				})),
			)
			res, err := s.ScoreEpoch(ctx, "acct-a", epoch1, sampleRecords())

			Convey("Then scoring should fall back to base weights and flag degraded mode", func() {
				So(err, ShouldBeNil)
				So(res.Degraded, ShouldBeTrue)
				So(res.Score.String(), ShouldEqual, "3.95")
			})
		})

		Convey("When the same records are scored twice", func() {
			var calls atomic.Int64
			s := scoring.NewScorer(scoring.WithClassifier(scoring.ClassifierFunc(func(context.Context, model.ContributionRecord) (float64, error) {
				calls.Add(1)
				return 1.2, nil
			})))
			first, err := s.ScoreEpoch(ctx, "acct-a", epoch1, sampleRecords())
			So(err, ShouldBeNil)
			second, err := s.ScoreEpoch(ctx, "acct-a", epoch1, sampleRecords())
			So(err, ShouldBeNil)

			Convey("Then cached verdicts should be replayed", func() {
				So(calls.Load(), ShouldEqual, 5)
				So(second.Score.Equal(first.Score), ShouldBeTrue)
				So(first.Score.String(), ShouldEqual, "4.74")
			})
		})

		Convey("When the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			s := scoring.NewScorer(
				scoring.WithVerdictCacheSize(0),
				scoring.WithClassifier(scoring.ClassifierFunc(func(c context.Context, _ model.ContributionRecord) (float64, error) {
					return 0, c.Err()
				})),
			)
			_, err := s.ScoreEpoch(cctx, "acct-a", epoch1, sampleRecords())

			Convey("Then it should return the context error", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}
