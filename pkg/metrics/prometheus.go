// Package metrics provides Prometheus metrics for the yieldboard service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Stake ledger
	stakeOperations *prometheus.CounterVec
	stakeFailures   *prometheus.CounterVec
	penaltiesTotal  prometheus.Counter
	stakedAccounts  prometheus.Gauge

	// Ingestion and scoring
	recordsIngested   prometheus.Counter
	recordsDuplicate  prometheus.Counter
	recordsSkipped    *prometheus.CounterVec
	ingestionFailures prometheus.Counter
	scoringDegraded   prometheus.Counter
	scoringLatency    prometheus.Histogram

	// Leaderboard
	leaderboardCloses    prometheus.Counter
	leaderboardRejects   prometheus.Counter
	leaderboardSize      prometheus.Gauge
	leaderboardLastEpoch prometheus.Gauge

	// Payouts and settlement
	payoutsCreated      prometheus.Counter
	payoutTransitions   *prometheus.CounterVec
	settlementLatency   prometheus.Histogram
	settlementAttempts  *prometheus.CounterVec
	withdrawalsSettled  *prometheus.CounterVec
	epochStageDuration  *prometheus.HistogramVec
	epochRuns           *prometheus.CounterVec
	unresolvedPayouts   prometheus.Gauge
	lastDistributedEpoch prometheus.Gauge

	// Queue and workers
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueRejected    prometheus.Counter
	workerCount      prometheus.Gauge
	workerJobLatency prometheus.Histogram
	workerErrors     prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "yieldboard",
		subsystem:        "rewards",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix != "" {
		return m.metricPrefix + "_" + n
	}
	return n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.stakeOperations = m.counterVec("stake_operations_total", "Successful stake ledger mutations by operation", "operation")
	m.stakeFailures = m.counterVec("stake_failures_total", "Rejected stake ledger mutations by operation and reason", "operation", "reason")
	m.penaltiesTotal = m.counter("early_unstake_penalties_total", "Number of unstakes that incurred an early-withdrawal penalty")
	m.stakedAccounts = m.gauge("staked_accounts", "Accounts with a positive stake balance")

	m.recordsIngested = m.counter("records_ingested_total", "Contribution records newly persisted")
	m.recordsDuplicate = m.counter("records_duplicate_total", "Contribution records dropped as replays of a known dedup key")
	m.recordsSkipped = m.counterVec("records_skipped_total", "Malformed contribution records skipped during scoring", "reason")
	m.ingestionFailures = m.counter("ingestion_failures_total", "Activity fetches that failed after all retries")
	m.scoringDegraded = m.counter("scoring_degraded_total", "Account scorings that fell back to unweighted scores")
	m.scoringLatency = m.histogram("scoring_latency_milliseconds", "Per-account scoring latency in milliseconds")

	m.leaderboardCloses = m.counter("leaderboard_closes_total", "Leaderboard snapshots published")
	m.leaderboardRejects = m.counter("leaderboard_rejects_total", "closeEpoch calls rejected because the epoch was closed with different scores")
	m.leaderboardSize = m.gauge("leaderboard_size", "Entries in the most recently closed leaderboard")
	m.leaderboardLastEpoch = m.gauge("leaderboard_last_epoch", "Most recently closed epoch id")

	m.payoutsCreated = m.counter("payouts_created_total", "Pending payout records created")
	m.payoutTransitions = m.counterVec("payout_transitions_total", "Payout status transitions", "to")
	m.settlementLatency = m.histogram("settlement_latency_milliseconds", "Settlement call latency in milliseconds")
	m.settlementAttempts = m.counterVec("settlement_attempts_total", "Settlement submissions by outcome", "outcome")
	m.withdrawalsSettled = m.counterVec("withdrawals_total", "Withdrawal settlements by outcome", "outcome")
	m.epochStageDuration = m.histogramVec("epoch_stage_duration_milliseconds", "Epoch stage durations", "stage")
	m.epochRuns = m.counterVec("epoch_runs_total", "runEpoch invocations by result", "result")
	m.unresolvedPayouts = m.gauge("unresolved_payouts", "Payouts neither confirmed nor terminally failed")
	m.lastDistributedEpoch = m.gauge("last_distributed_epoch", "Most recent epoch with every payout resolved")

	m.queueSize = m.gauge("queue_size", "Current size of the scoring job queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the scoring job queue")
	m.queueRejected = m.counter("queue_rejected_total", "Jobs rejected by the queue (full or closed)")
	m.workerCount = m.gauge("worker_count", "Scoring workers")
	m.workerJobLatency = m.histogram("worker_job_latency_milliseconds", "Ingest+score job latency in milliseconds")
	m.workerErrors = m.counter("worker_errors_total", "Failed scoring jobs")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Goroutine count")
}

// Stake ledger

func RecordStakeOperation(op string)          { globalManager.stakeOperations.WithLabelValues(op).Inc() }
func RecordStakeFailure(op, reason string)    { globalManager.stakeFailures.WithLabelValues(op, reason).Inc() }
func RecordPenalty()                          { globalManager.penaltiesTotal.Inc() }
func UpdateStakedAccounts(count int)          { globalManager.stakedAccounts.Set(float64(count)) }

// Ingestion and scoring

func RecordRecordsIngested(n int)             { globalManager.recordsIngested.Add(float64(n)) }
func RecordRecordsDuplicate(n int)            { globalManager.recordsDuplicate.Add(float64(n)) }
func RecordRecordSkipped(reason string)       { globalManager.recordsSkipped.WithLabelValues(reason).Inc() }
func RecordIngestionFailure()                 { globalManager.ingestionFailures.Inc() }
func RecordScoringDegraded()                  { globalManager.scoringDegraded.Inc() }
func RecordScoringLatency(latencyMs float64)  { globalManager.scoringLatency.Observe(latencyMs) }

// Leaderboard

func RecordLeaderboardClose(epoch uint64, size int) {
	globalManager.leaderboardCloses.Inc()
	globalManager.leaderboardSize.Set(float64(size))
	globalManager.leaderboardLastEpoch.Set(float64(epoch))
}

func RecordLeaderboardReject() { globalManager.leaderboardRejects.Inc() }

// Payouts and settlement

func RecordPayoutsCreated(n int)               { globalManager.payoutsCreated.Add(float64(n)) }
func RecordPayoutTransition(to string)         { globalManager.payoutTransitions.WithLabelValues(to).Inc() }
func RecordSettlementLatency(latencyMs float64) { globalManager.settlementLatency.Observe(latencyMs) }
func RecordSettlementAttempt(outcome string)   { globalManager.settlementAttempts.WithLabelValues(outcome).Inc() }
func RecordWithdrawal(outcome string)          { globalManager.withdrawalsSettled.WithLabelValues(outcome).Inc() }
func UpdateUnresolvedPayouts(n int)            { globalManager.unresolvedPayouts.Set(float64(n)) }
func UpdateLastDistributedEpoch(epoch uint64)  { globalManager.lastDistributedEpoch.Set(float64(epoch)) }

func RecordEpochStage(stage string, d time.Duration) {
	globalManager.epochStageDuration.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func RecordEpochRun(result string) { globalManager.epochRuns.WithLabelValues(result).Inc() }

// Queue and workers

func UpdateQueueSize(size int)                   { globalManager.queueSize.Set(float64(size)) }
func UpdateQueueCapacity(capacity int)           { globalManager.queueCapacity.Set(float64(capacity)) }
func RecordQueueRejected()                       { globalManager.queueRejected.Inc() }
func UpdateWorkerCount(count int)                { globalManager.workerCount.Set(float64(count)) }
func RecordWorkerJobLatency(latencyMs float64)   { globalManager.workerJobLatency.Observe(latencyMs) }
func RecordWorkerError()                         { globalManager.workerErrors.Inc() }

// HTTP

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors

func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System

func UpdateSystemMemoryUsage(bytes uint64)  { globalManager.systemMemoryUsage.Set(float64(bytes)) }
func UpdateSystemGoroutineCount(count int)  { globalManager.systemGoroutineCount.Set(float64(count)) }

// GetRegistry returns the registry all package-level metrics are registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
