package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should register under the yieldboard namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.payoutsCreated.Add(2)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["yieldboard_rewards_payouts_created_total"], ShouldBeTrue)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_ns"),
				WithSubsystem("test_sub"),
				WithMetricPrefix("pre"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names and labels should follow the options", func() {
				So(manager, ShouldNotBeNil)
				manager.leaderboardCloses.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_ns_test_sub_pre_leaderboard_closes_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording stake ledger metrics", func() {
			before := testutil.ToFloat64(globalManager.stakeOperations.WithLabelValues("stake"))
			RecordStakeOperation("stake")
			RecordStakeOperation("stake")
			RecordStakeFailure("unstake", "insufficient_balance")
			RecordPenalty()
			UpdateStakedAccounts(3)

			Convey("Then counters and gauges should move", func() {
				So(testutil.ToFloat64(globalManager.stakeOperations.WithLabelValues("stake")), ShouldEqual, before+2)
				So(testutil.ToFloat64(globalManager.stakedAccounts), ShouldEqual, 3)
			})
		})

		Convey("When recording scoring metrics", func() {
			before := testutil.ToFloat64(globalManager.recordsSkipped.WithLabelValues("unknown_kind"))
			RecordRecordSkipped("unknown_kind")
			RecordRecordsIngested(10)
			RecordRecordsDuplicate(2)
			RecordScoringDegraded()
			RecordScoringLatency(12.5)

			Convey("Then skipped records should be labelled by reason", func() {
				So(testutil.ToFloat64(globalManager.recordsSkipped.WithLabelValues("unknown_kind")), ShouldEqual, before+1)
			})
		})

		Convey("When recording leaderboard and payout metrics", func() {
			So(func() {
				RecordLeaderboardClose(4, 120)
				RecordLeaderboardReject()
				RecordPayoutsCreated(5)
				RecordPayoutTransition("confirmed")
				RecordSettlementAttempt("retryable")
				RecordSettlementLatency(40)
				RecordWithdrawal("confirmed")
				RecordEpochStage("score", 25*time.Millisecond)
				RecordEpochRun("ok")
				UpdateUnresolvedPayouts(0)
				UpdateLastDistributedEpoch(4)
			}, ShouldNotPanic)

			Convey("Then gauges should hold the last value", func() {
				So(testutil.ToFloat64(globalManager.leaderboardLastEpoch), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.leaderboardSize), ShouldEqual, 120)
				So(testutil.ToFloat64(globalManager.lastDistributedEpoch), ShouldEqual, 4)
			})
		})

		Convey("When recording HTTP, queue and system metrics", func() {
			So(func() {
				RecordHTTPRequest("leaderboard", "GET", "200")
				RecordHTTPRequestDuration("leaderboard", "GET", "200", 3)
				UpdateQueueSize(7)
				UpdateQueueCapacity(100)
				RecordQueueRejected()
				UpdateWorkerCount(4)
				RecordWorkerJobLatency(8)
				RecordWorkerError()
				RecordErrorByComponent("scheduler", "settlement")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent metric recording", t, func() {
		before := testutil.ToFloat64(globalManager.payoutTransitions.WithLabelValues("submitted"))
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					RecordPayoutTransition("submitted")
				}
			}()
		}
		wg.Wait()

		Convey("Then no increments should be lost", func() {
			So(testutil.ToFloat64(globalManager.payoutTransitions.WithLabelValues("submitted")), ShouldEqual, before+1000)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		RecordEpochRun("ok")
		families, err := GetRegistry().Gather()

		Convey("Then it should expose yieldboard metrics only", func() {
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
			for _, f := range families {
				So(f.GetName(), ShouldStartWith, "yieldboard_")
			}
		})
	})
}
