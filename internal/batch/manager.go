package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paperstack/analysis-service/internal/budget"
	"github.com/paperstack/analysis-service/internal/config"
	"github.com/paperstack/analysis-service/internal/domain"
	"github.com/paperstack/analysis-service/internal/observability"
	"github.com/paperstack/analysis-service/internal/queue"
	"github.com/paperstack/analysis-service/internal/repository"
)

// StartOptions describes a batch start request.
type StartOptions struct {
	// RequestedSize is clamped into the allowed range; zero selects the default.
	RequestedSize int

	// Scope is a selection-policy label. Empty selects the configured default.
	Scope string

	// Scheduled marks starts initiated by automation rather than an
	// operator. Scheduled starts additionally require auto mode to be on.
	Scheduled bool
}

// StartResult reports what a start attempt did. When no unanalyzed papers
// were found the request succeeds without creating a batch and Batch is nil.
type StartResult struct {
	Batch    *domain.Batch
	Enqueued int
	Message  string
}

// Manager drives the batch lifecycle: starting new batches against the
// single-active slot and controlling the active one.
type Manager struct {
	batches    repository.BatchRepository
	papers     repository.PaperRepository
	dispatcher *Dispatcher
	guard      *budget.Guard
	queue      queue.Queue
	cfg        config.BatchConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewManager creates a batch manager.
func NewManager(
	batches repository.BatchRepository,
	papers repository.PaperRepository,
	dispatcher *Dispatcher,
	guard *budget.Guard,
	q queue.Queue,
	cfg config.BatchConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		batches:    batches,
		papers:     papers,
		dispatcher: dispatcher,
		guard:      guard,
		queue:      q,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With().Str("component", "batch_manager").Logger(),
	}
}

// Start begins a new analysis batch. Checks run in a fixed order: the
// single-active slot first, then the budget guard, then paper selection.
// The slot check here is a fast path only; the database constraint in
// CreateActive is what actually decides a race.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*StartResult, error) {
	size := domain.ClampBatchSize(opts.RequestedSize)
	scope := opts.Scope
	if scope == "" {
		scope = m.cfg.DefaultScope
	}

	if active, err := m.batches.GetActive(ctx); err == nil {
		m.metrics.RecordBatchRejected("active_batch")
		return nil, &domain.BatchActiveError{BatchID: active.ID, Status: active.Status}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("checking active batch: %w", err)
	}

	if err := m.guard.CheckStart(ctx, m.cfg.EstimatedCostCents*int64(size), opts.Scheduled); err != nil {
		switch {
		case errors.Is(err, domain.ErrAutoDisabled):
			m.metrics.RecordBatchRejected("auto_disabled")
		case errors.Is(err, domain.ErrBudgetExceeded):
			m.metrics.RecordBatchRejected("budget")
		}
		return nil, err
	}

	papers, err := m.papers.SelectUnanalyzed(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("selecting papers: %w", err)
	}
	if len(papers) == 0 {
		m.metrics.RecordBatchRejected("no_papers")
		m.logger.Info().Int("requested_size", size).Msg("no unanalyzed papers, nothing to do")
		return &StartResult{Message: "no unanalyzed papers found"}, nil
	}

	now := time.Now().UTC()
	b := &domain.Batch{
		ID:            uuid.New(),
		RequestedSize: size,
		Size:          len(papers),
		Model:         m.cfg.Model,
		Scope:         scope,
		Status:        domain.BatchStatusRunning,
		CreatedAt:     now,
		StartedAt:     &now,
	}
	jobs := BuildJobs(b.ID, papers, now)

	if err := m.batches.CreateActive(ctx, b, jobs); err != nil {
		if errors.Is(err, domain.ErrBatchActive) {
			m.metrics.RecordBatchRejected("active_batch")
		}
		return nil, err
	}

	enqueued, failedEnqueues := m.dispatcher.Enqueue(ctx, b, jobs)
	m.metrics.RecordBatchStarted(b.Size)

	logger := observability.WithBatchContext(m.logger, b.ID.String(), b.Size)
	logger.Info().
		Int("requested_size", size).
		Str("scope", scope).
		Int("enqueued", enqueued).
		Int("enqueue_failures", failedEnqueues).
		Bool("scheduled", opts.Scheduled).
		Msg("batch started")

	return &StartResult{Batch: b, Enqueued: enqueued}, nil
}

// Pause pauses the running batch and asks the queue to stop delivering
// work. The database transition is authoritative; a queue control failure
// is logged but does not undo the pause.
func (m *Manager) Pause(ctx context.Context) (*domain.Batch, error) {
	return m.control(ctx, "pause", domain.BatchStatusRunning, domain.BatchStatusPaused, m.queue.Pause)
}

// Resume resumes the paused batch and asks the queue to deliver work again.
func (m *Manager) Resume(ctx context.Context) (*domain.Batch, error) {
	return m.control(ctx, "resume", domain.BatchStatusPaused, domain.BatchStatusRunning, m.queue.Resume)
}

func (m *Manager) control(
	ctx context.Context,
	op string,
	from, to domain.BatchStatus,
	queueOp func(context.Context) error,
) (*domain.Batch, error) {
	active, err := m.batches.GetActive(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewNotFoundError("batch", fmt.Sprintf("no %s batch", from))
		}
		return nil, err
	}
	if active.Status != from {
		// Wrong state for this operation; tell the operator what is
		// actually there instead of changing anything.
		return nil, domain.NewNotFoundError("batch", fmt.Sprintf("active batch is %s, not %s", active.Status, from))
	}

	updated, err := m.batches.Transition(ctx, active.ID, to)
	if err != nil {
		return nil, err
	}

	qErr := queueOp(ctx)
	m.metrics.RecordQueueControl(op, qErr)
	logger := observability.WithBatchContext(m.logger, updated.ID.String(), updated.Size)
	if qErr != nil {
		logger.Error().Err(qErr).Str("op", op).Msg("queue control failed, batch state changed anyway")
	} else {
		logger.Info().Str("op", op).Msg("batch " + string(to))
	}
	return updated, nil
}

// Cancel terminates the active batch. Pending jobs are force-failed in the
// same transaction as the status change, then the queue is drained so no
// stale work is delivered afterwards. Returns the cancelled batch and the
// number of jobs force-failed.
func (m *Manager) Cancel(ctx context.Context) (*domain.Batch, int, error) {
	active, err := m.batches.GetActive(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, 0, domain.NewNotFoundError("batch", "no active batch to cancel")
		}
		return nil, 0, err
	}

	cancelled, forceFailed, err := m.batches.Cancel(ctx, active.ID)
	if err != nil {
		return nil, 0, err
	}
	m.metrics.RecordBatchCancelled()

	dropped, qErr := m.queue.Drain(ctx)
	m.metrics.RecordQueueControl("drain", qErr)
	logger := observability.WithBatchContext(m.logger, cancelled.ID.String(), cancelled.Size)
	if qErr != nil {
		logger.Error().Err(qErr).Msg("queue drain failed after cancel")
	}
	logger.Info().
		Int("force_failed", forceFailed).
		Int64("queue_dropped", dropped).
		Msg("batch cancelled")

	return cancelled, forceFailed, nil
}
