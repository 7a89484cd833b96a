// Package batch implements batch orchestration: job dispatch, the batch
// lifecycle state machine, and the read-only status projections.
package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/paperstack/analysis-service/internal/budget"
	"github.com/paperstack/analysis-service/internal/domain"
	"github.com/paperstack/analysis-service/internal/observability"
	"github.com/paperstack/analysis-service/internal/queue"
	"github.com/paperstack/analysis-service/internal/repository"
)

// Dispatcher creates job records, hands them to the external work queue,
// and applies the outcomes the queue reports back.
type Dispatcher struct {
	jobs    repository.JobRepository
	queue   queue.Queue
	guard   *budget.Guard
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher. The rate limiter bounds how fast
// jobs are handed to the queue so a large batch does not flood it.
func NewDispatcher(
	jobs repository.JobRepository,
	q queue.Queue,
	guard *budget.Guard,
	limiter *rate.Limiter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		jobs:    jobs,
		queue:   q,
		guard:   guard,
		limiter: limiter,
		metrics: metrics,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// BuildJobs constructs one pending job per paper for the given batch.
func BuildJobs(batchID uuid.UUID, papers []*domain.Paper, now time.Time) []*domain.Job {
	jobs := make([]*domain.Job, len(papers))
	for i, paper := range papers {
		jobs[i] = &domain.Job{
			ID:        uuid.New(),
			BatchID:   batchID,
			PaperID:   paper.ID,
			Status:    domain.JobStatusPending,
			CreatedAt: now,
		}
	}
	return jobs
}

// Enqueue hands each job of the batch to the external queue. Individual
// enqueue failures are logged and counted but do not abort the batch: the
// job stays pending and remains eligible for a later retry. Returns the
// number of jobs enqueued and the number that failed.
func (d *Dispatcher) Enqueue(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) (int, int) {
	logger := observability.WithBatchContext(d.logger, batch.ID.String(), batch.Size)

	var enqueued, failed int
	for _, job := range jobs {
		if err := d.limiter.Wait(ctx); err != nil {
			// Context cancelled mid-dispatch; the remaining jobs stay
			// pending for a later retry.
			failed += len(jobs) - enqueued - failed
			logger.Warn().Err(err).Int("remaining", len(jobs)-enqueued).
				Msg("dispatch interrupted")
			break
		}

		ok, err := d.queue.Enqueue(ctx, queue.JobMessage{
			JobID:   job.ID,
			BatchID: job.BatchID,
			PaperID: job.PaperID,
			Model:   batch.Model,
		})
		if err != nil {
			failed++
			d.metrics.RecordEnqueueFailed()
			jobLogger := observability.WithJobContext(logger, job.ID.String(), job.PaperID.String())
			jobLogger.Error().Err(err).Msg("failed to enqueue job")
			continue
		}
		if !ok {
			d.metrics.RecordEnqueueDeduplicated()
		}
		enqueued++
		d.metrics.RecordEnqueue()
	}

	logger.Info().Int("enqueued", enqueued).Int("failed", failed).Msg("batch dispatched")
	return enqueued, failed
}

// ReportOutcome applies a terminal outcome reported by the queue. Duplicate
// deliveries and reports for cancelled jobs are discarded without error.
func (d *Dispatcher) ReportOutcome(ctx context.Context, jobID uuid.UUID, outcome domain.JobOutcome) (*repository.OutcomeResult, error) {
	result, err := d.jobs.ReportOutcome(ctx, jobID, outcome)
	if err != nil {
		return nil, err
	}

	if !result.Applied {
		d.metrics.RecordOutcomeStale()
		d.logger.Debug().Str("job_id", jobID.String()).Msg("stale outcome report discarded")
		return result, nil
	}

	if outcome.Completed != nil {
		c := outcome.Completed
		d.metrics.RecordJobCompleted(c.CostCents, c.TokensUsed, float64(c.DurationMs)/1000)
		// Spend moved; let the budget guard auto-pause if a cap was crossed.
		d.guard.NoteSpend(ctx)
	} else {
		d.metrics.RecordJobFailed(0)
		d.logger.Info().
			Str("job_id", jobID.String()).
			Str("error", outcome.Failed.ErrorMessage).
			Msg("job failed")
	}

	if result.BatchCompleted {
		d.metrics.RecordBatchCompleted(result.Batch.Duration().Seconds())
		d.logger.Info().
			Str("batch_id", result.Batch.ID.String()).
			Int("completed", result.Batch.Completed).
			Int("failed", result.Batch.Failed).
			Int64("total_cost_cents", result.Batch.TotalCostCents).
			Msg("batch completed")
	}

	return result, nil
}
