package reward_test

import (
	"testing"
	"time"

	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/internal/domain/reward"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func weekly() *reward.Calculator {
	return reward.NewCalculator(reward.Rates{
		BaseAnnual:    d("0.04"),
		EpochLength:   7 * 24 * time.Hour,
		BonusPerPoint: d("0.1"),
		RewardedRanks: 2,
		Precision:     6,
	})
}

func TestComputePayouts(t *testing.T) {
	Convey("Given a weekly calculator at 4% a year and 0.1 per point", t, func() {
		calc := weekly()

		Convey("Then the prorated rate should be about 0.00077 per week", func() {
			So(calc.RatePerEpoch().Round(5).String(), ShouldEqual, "0.00077")
		})

		Convey("When account A with 1000 staked scored 10 points", func() {
			snap := &model.Snapshot{EpochID: 1, Entries: []model.RankedEntry{
				{Rank: 1, AccountID: "A", Score: d("10")},
			}}
			payouts := calc.ComputePayouts(1, snap, reward.Balances{"A": d("1000")})

			Convey("Then the payout should be about 1.77, rounded down", func() {
				So(payouts, ShouldHaveLength, 1)
				p := payouts[0]
				So(p.Base.String(), ShouldEqual, "0.767123")
				So(p.Bonus.String(), ShouldEqual, "1")
				So(p.Total.String(), ShouldEqual, "1.767123")
				So(p.Status, ShouldEqual, model.StatusPending)
				So(p.EpochID, ShouldEqual, 1)
			})
		})

		Convey("When accounts fall outside the rewarded rank window", func() {
			snap := &model.Snapshot{EpochID: 3, Entries: []model.RankedEntry{
				{Rank: 1, AccountID: "A", Score: d("10")},
				{Rank: 2, AccountID: "B", Score: d("5")},
				{Rank: 3, AccountID: "C", Score: d("4")},
			}}
			payouts := calc.ComputePayouts(3, snap, reward.Balances{"A": d("1000"), "B": d("1000"), "C": d("1000")})

			Convey("Then only the window should receive a bonus", func() {
				So(payouts, ShouldHaveLength, 3)
				So(payouts[1].Bonus.String(), ShouldEqual, "0.5")
				So(payouts[2].Bonus.IsZero(), ShouldBeTrue)
				So(payouts[2].Total.Equal(payouts[2].Base), ShouldBeTrue)
			})
		})

		Convey("When accounts have no stake or round to nothing", func() {
			snap := &model.Snapshot{EpochID: 1, Entries: []model.RankedEntry{
				{Rank: 1, AccountID: "unstaked", Score: d("100")},
				{Rank: 2, AccountID: "dust", Score: d("0")},
				{Rank: 3, AccountID: "ok", Score: d("0")},
			}}
			payouts := calc.ComputePayouts(1, snap, reward.Balances{
				"dust": d("0.000001"),
				"ok":   d("50"),
			})

			Convey("Then they should be skipped, not recorded", func() {
				So(payouts, ShouldHaveLength, 1)
				So(payouts[0].AccountID, ShouldEqual, "ok")
			})
		})

		Convey("When the same snapshot is recomputed", func() {
			snap := &model.Snapshot{EpochID: 1, Entries: []model.RankedEntry{
				{Rank: 1, AccountID: "A", Score: d("3.333333333")},
			}}
			view := reward.Balances{"A": d("777.777777")}
			first := calc.ComputePayouts(1, snap, view)
			second := calc.ComputePayouts(1, snap, view)

			Convey("Then it should be identical and never exceed the exact amount", func() {
				So(second[0].Total.Equal(first[0].Total), ShouldBeTrue)
				So(second[0].Base.Equal(first[0].Base), ShouldBeTrue)
				exact := d("777.777777").Mul(calc.RatePerEpoch()).Add(d("3.333333333").Mul(d("0.1")))
				So(first[0].Total.LessThanOrEqual(exact), ShouldBeTrue)
				So(first[0].Total.Exponent(), ShouldBeGreaterThanOrEqualTo, -6)
			})
		})
	})
}

func TestComputePayoutsRounding(t *testing.T) {
	Convey("Given a yearly epoch at 10% and a bonus of 0.0000001 per point", t, func() {
		calc := reward.NewCalculator(reward.Rates{
			BaseAnnual:    d("0.1"),
			EpochLength:   365 * 24 * time.Hour,
			BonusPerPoint: d("0.0000001"),
			Precision:     6,
		})

		Convey("When base and bonus each carry half a settlement unit", func() {
			snap := &model.Snapshot{EpochID: 1, Entries: []model.RankedEntry{
				{Rank: 1, AccountID: "A", Score: d("5")},
			}}
			payouts := calc.ComputePayouts(1, snap, reward.Balances{"A": d("1.000005")})

			Convey("Then the exact total is rounded down once and the parts still add up", func() {
				So(payouts, ShouldHaveLength, 1)
				p := payouts[0]
				So(p.Total.String(), ShouldEqual, "0.100001")
				So(p.Base.String(), ShouldEqual, "0.1")
				So(p.Bonus.String(), ShouldEqual, "0.000001")
				So(p.Base.Add(p.Bonus).Equal(p.Total), ShouldBeTrue)
			})
		})
	})
}

func TestBalancesFromScores(t *testing.T) {
	Convey("Given scores recorded with balances", t, func() {
		view := reward.BalancesFromScores([]model.EpochScore{
			{AccountID: "A", Balance: d("10")},
		})

		So(view.BalanceOf("A").String(), ShouldEqual, "10")
		So(view.BalanceOf("B").IsZero(), ShouldBeTrue)
	})
}
