package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper analysis service.
// Metrics are organized by subsystem: batches, jobs, queue, budget, and the
// outcome consumer. All counters and histograms are registered via promauto
// for automatic registration with the default Prometheus registry.
type Metrics struct {
	// BatchesStarted counts the total number of analysis batches started.
	BatchesStarted prometheus.Counter

	// BatchesCompleted counts the total number of batches that ran to completion.
	BatchesCompleted prometheus.Counter

	// BatchesCancelled counts the total number of batches cancelled by an operator.
	BatchesCancelled prometheus.Counter

	// BatchesRejected counts batch start attempts rejected before any work
	// was created, labeled by reason (active_batch, budget, no_papers, auto_disabled).
	BatchesRejected *prometheus.CounterVec

	// BatchDuration observes the end-to-end duration of batches in seconds.
	BatchDuration prometheus.Histogram

	// BatchSize observes the distribution of batch sizes at start.
	BatchSize prometheus.Histogram

	// JobsCompleted counts the total number of analysis jobs that succeeded.
	JobsCompleted prometheus.Counter

	// JobsFailed counts the total number of analysis jobs that failed.
	JobsFailed prometheus.Counter

	// JobCostCents observes the per-job analysis cost in cents.
	JobCostCents prometheus.Histogram

	// JobDuration observes per-job analysis duration in seconds.
	JobDuration prometheus.Histogram

	// JobTokensUsed counts tokens consumed across completed jobs.
	JobTokensUsed prometheus.Counter

	// OutcomesStale counts outcome reports that matched no pending job
	// (duplicate deliveries and reports for cancelled jobs).
	OutcomesStale prometheus.Counter

	// EnqueuesTotal counts jobs handed to the work queue.
	EnqueuesTotal prometheus.Counter

	// EnqueuesFailed counts jobs that could not be enqueued.
	EnqueuesFailed prometheus.Counter

	// EnqueuesDeduplicated counts enqueue attempts skipped by the dedupe marker.
	EnqueuesDeduplicated prometheus.Counter

	// QueueControlOps counts queue control operations, labeled by op and result.
	QueueControlOps *prometheus.CounterVec

	// BudgetBlocks counts batch starts blocked by the budget guard, labeled
	// by window (daily, monthly, paused).
	BudgetBlocks *prometheus.CounterVec

	// BudgetAutoPauses counts automatic pauses triggered by cap breaches.
	BudgetAutoPauses prometheus.Counter

	// SpendCents counts recorded analysis spend in cents.
	SpendCents prometheus.Counter

	// OutcomeEventsTotal counts outcome events consumed, labeled by status.
	OutcomeEventsTotal *prometheus.CounterVec

	// OutcomeEventsInvalid counts outcome events that could not be decoded or applied.
	OutcomeEventsInvalid prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Batches
		BatchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_started_total",
			Help:      "Total number of analysis batches started",
		}),
		BatchesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Total number of analysis batches completed",
		}),
		BatchesCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_cancelled_total",
			Help:      "Total number of analysis batches cancelled",
		}),
		BatchesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_rejected_total",
			Help:      "Total number of batch start attempts rejected by reason",
		}, []string{"reason"}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of analysis batches in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of jobs per analysis batch at start",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		}),

		// Jobs
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of analysis jobs completed successfully",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of analysis jobs that failed",
		}),
		JobCostCents: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_cost_cents",
			Help:      "Cost of individual analysis jobs in cents",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of individual analysis jobs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		JobTokensUsed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_tokens_used_total",
			Help:      "Total number of tokens used by completed analysis jobs",
		}),
		OutcomesStale: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_stale_total",
			Help:      "Total number of outcome reports that matched no pending job",
		}),

		// Queue
		EnqueuesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueues_total",
			Help:      "Total number of jobs handed to the work queue",
		}),
		EnqueuesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueues_failed_total",
			Help:      "Total number of jobs that could not be enqueued",
		}),
		EnqueuesDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueues_deduplicated_total",
			Help:      "Total number of enqueue attempts skipped by the dedupe marker",
		}),
		QueueControlOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_control_ops_total",
			Help:      "Total number of queue control operations by op and result",
		}, []string{"op", "result"}),

		// Budget
		BudgetBlocks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_blocks_total",
			Help:      "Total number of batch starts blocked by the budget guard",
		}, []string{"window"}),
		BudgetAutoPauses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_auto_pauses_total",
			Help:      "Total number of automatic pauses triggered by cap breaches",
		}),
		SpendCents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_cents_total",
			Help:      "Total recorded analysis spend in cents",
		}),

		// Outcome consumer
		OutcomeEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcome_events_total",
			Help:      "Total number of outcome events consumed by status",
		}, []string{"status"}),
		OutcomeEventsInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcome_events_invalid_total",
			Help:      "Total number of outcome events that could not be decoded or applied",
		}),
	}
}

// RecordBatchStarted records that a batch has started with the given size.
func (m *Metrics) RecordBatchStarted(size int) {
	m.BatchesStarted.Inc()
	m.BatchSize.Observe(float64(size))
}

// RecordBatchCompleted records that a batch ran to completion.
func (m *Metrics) RecordBatchCompleted(durationSeconds float64) {
	m.BatchesCompleted.Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordBatchCancelled records that a batch was cancelled.
func (m *Metrics) RecordBatchCancelled() {
	m.BatchesCancelled.Inc()
}

// RecordBatchRejected records a batch start attempt rejected before any work was created.
func (m *Metrics) RecordBatchRejected(reason string) {
	m.BatchesRejected.WithLabelValues(reason).Inc()
}

// RecordJobCompleted records a successful job outcome.
func (m *Metrics) RecordJobCompleted(costCents, tokensUsed int, durationSeconds float64) {
	m.JobsCompleted.Inc()
	m.JobCostCents.Observe(float64(costCents))
	m.JobDuration.Observe(durationSeconds)
	m.JobTokensUsed.Add(float64(tokensUsed))
	m.SpendCents.Add(float64(costCents))
}

// RecordJobFailed records a failed job outcome.
func (m *Metrics) RecordJobFailed(durationSeconds float64) {
	m.JobsFailed.Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordOutcomeStale records an outcome report that matched no pending job.
func (m *Metrics) RecordOutcomeStale() {
	m.OutcomesStale.Inc()
}

// RecordEnqueue records a job handed to the work queue.
func (m *Metrics) RecordEnqueue() {
	m.EnqueuesTotal.Inc()
}

// RecordEnqueueFailed records a job that could not be enqueued.
func (m *Metrics) RecordEnqueueFailed() {
	m.EnqueuesFailed.Inc()
}

// RecordEnqueueDeduplicated records an enqueue skipped by the dedupe marker.
func (m *Metrics) RecordEnqueueDeduplicated() {
	m.EnqueuesDeduplicated.Inc()
}

// RecordQueueControl records a queue control operation result.
func (m *Metrics) RecordQueueControl(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.QueueControlOps.WithLabelValues(op, result).Inc()
}

// RecordBudgetBlock records a batch start blocked by the budget guard.
func (m *Metrics) RecordBudgetBlock(window string) {
	m.BudgetBlocks.WithLabelValues(window).Inc()
}

// RecordBudgetAutoPause records an automatic pause triggered by a cap breach.
func (m *Metrics) RecordBudgetAutoPause() {
	m.BudgetAutoPauses.Inc()
}

// RecordOutcomeEvent records a consumed outcome event by status.
func (m *Metrics) RecordOutcomeEvent(status string) {
	m.OutcomeEventsTotal.WithLabelValues(status).Inc()
}

// RecordOutcomeEventInvalid records an outcome event that could not be decoded or applied.
func (m *Metrics) RecordOutcomeEventInvalid() {
	m.OutcomeEventsInvalid.Inc()
}
