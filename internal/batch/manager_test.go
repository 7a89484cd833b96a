package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/paperstack/analysis-service/internal/budget"
	"github.com/paperstack/analysis-service/internal/config"
	"github.com/paperstack/analysis-service/internal/domain"
	"github.com/paperstack/analysis-service/internal/observability"
	"github.com/paperstack/analysis-service/internal/queue"
	"github.com/paperstack/analysis-service/internal/repository"
)

// fakeBatchRepo is an in-memory BatchRepository for exercising the manager
// without a database.
type fakeBatchRepo struct {
	active      *domain.Batch
	createErr   error
	createdJobs []*domain.Job
	history     []*domain.Batch
}

func (f *fakeBatchRepo) CreateActive(_ context.Context, batch *domain.Batch, jobs []*domain.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.active != nil {
		return &domain.BatchActiveError{BatchID: f.active.ID, Status: f.active.Status}
	}
	f.active = batch
	f.createdJobs = jobs
	return nil
}

func (f *fakeBatchRepo) Get(_ context.Context, id uuid.UUID) (*domain.Batch, error) {
	if f.active != nil && f.active.ID == id {
		return f.active, nil
	}
	return nil, domain.NewNotFoundError("batch", id.String())
}

func (f *fakeBatchRepo) GetActive(_ context.Context) (*domain.Batch, error) {
	if f.active == nil || !f.active.Status.IsActive() {
		return nil, domain.NewNotFoundError("batch", "active")
	}
	return f.active, nil
}

func (f *fakeBatchRepo) Transition(_ context.Context, id uuid.UUID, to domain.BatchStatus) (*domain.Batch, error) {
	if f.active == nil || f.active.ID != id {
		return nil, domain.NewNotFoundError("batch", id.String())
	}
	f.active.Status = to
	return f.active, nil
}

func (f *fakeBatchRepo) Cancel(_ context.Context, id uuid.UUID) (*domain.Batch, int, error) {
	if f.active == nil || f.active.ID != id {
		return nil, 0, domain.NewNotFoundError("batch", id.String())
	}
	forceFailed := f.active.Remaining()
	now := time.Now().UTC()
	f.active.Status = domain.BatchStatusCancelled
	f.active.Failed += forceFailed
	f.active.FinishedAt = &now
	return f.active, forceFailed, nil
}

func (f *fakeBatchRepo) List(_ context.Context, filter repository.BatchFilter) ([]*domain.Batch, int64, error) {
	out := f.history
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			out = nil
		} else {
			out = out[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, int64(len(f.history)), nil
}

type fakeJobRepo struct {
	outcome    *repository.OutcomeResult
	outcomeErr error
	recent     []*domain.Job
	spend      int64
}

func (f *fakeJobRepo) ReportOutcome(_ context.Context, _ uuid.UUID, outcome domain.JobOutcome) (*repository.OutcomeResult, error) {
	if err := outcome.Validate(); err != nil {
		return nil, err
	}
	return f.outcome, f.outcomeErr
}

func (f *fakeJobRepo) Get(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	return nil, domain.NewNotFoundError("job", id.String())
}

func (f *fakeJobRepo) ListTerminalRecent(_ context.Context, limit int) ([]*domain.Job, error) {
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeJobRepo) ListByBatch(_ context.Context, _ uuid.UUID) ([]*domain.Job, error) {
	return nil, nil
}

func (f *fakeJobRepo) SpendBetween(_ context.Context, _, _ time.Time) (int64, error) {
	return f.spend, nil
}

type fakePaperRepo struct {
	papers   []*domain.Paper
	total    int64
	analyzed int64
	titles   map[uuid.UUID]string
}

func (f *fakePaperRepo) SelectUnanalyzed(_ context.Context, limit int) ([]*domain.Paper, error) {
	if len(f.papers) > limit {
		return f.papers[:limit], nil
	}
	return f.papers, nil
}

func (f *fakePaperRepo) CountTotal(_ context.Context) (int64, error)    { return f.total, nil }
func (f *fakePaperRepo) CountAnalyzed(_ context.Context) (int64, error) { return f.analyzed, nil }

func (f *fakePaperRepo) LookupTitles(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if title, ok := f.titles[id]; ok {
			out[id] = title
		}
	}
	return out, nil
}

type fakeBudgetRepo struct {
	cfg domain.BudgetConfig
}

func (f *fakeBudgetRepo) Get(_ context.Context) (*domain.BudgetConfig, error) {
	cfg := f.cfg
	return &cfg, nil
}

func (f *fakeBudgetRepo) SetCaps(_ context.Context, daily, monthly int64, auto bool) (*domain.BudgetConfig, error) {
	f.cfg.DailyCapCents = daily
	f.cfg.MonthlyCapCents = monthly
	f.cfg.AutoEnabled = auto
	cfg := f.cfg
	return &cfg, nil
}

func (f *fakeBudgetRepo) SetPaused(_ context.Context, paused bool, reason string) (*domain.BudgetConfig, error) {
	f.cfg.Paused = paused
	f.cfg.PauseReason = reason
	if !paused {
		f.cfg.PauseReason = ""
	}
	cfg := f.cfg
	return &cfg, nil
}

// fakeQueue records control calls and can fail enqueues for chosen papers.
type fakeQueue struct {
	messages   []queue.JobMessage
	failPapers map[uuid.UUID]bool
	paused     bool
	drained    int64
	drainErr   error
}

func (f *fakeQueue) Enqueue(_ context.Context, msg queue.JobMessage) (bool, error) {
	if f.failPapers[msg.PaperID] {
		return false, domain.NewQueueError("enqueue", errors.New("connection refused"))
	}
	f.messages = append(f.messages, msg)
	return true, nil
}

func (f *fakeQueue) Pause(_ context.Context) error  { f.paused = true; return nil }
func (f *fakeQueue) Resume(_ context.Context) error { f.paused = false; return nil }

func (f *fakeQueue) Paused(_ context.Context) (bool, error) { return f.paused, nil }

func (f *fakeQueue) Drain(_ context.Context) (int64, error) {
	if f.drainErr != nil {
		return 0, f.drainErr
	}
	dropped := int64(len(f.messages))
	f.messages = nil
	f.drained += dropped
	return dropped, nil
}

func (f *fakeQueue) Depth(_ context.Context) (int64, error) { return int64(len(f.messages)), nil }
func (f *fakeQueue) Close() error                           { return nil }

type managerFixture struct {
	manager *Manager
	batches *fakeBatchRepo
	jobs    *fakeJobRepo
	papers  *fakePaperRepo
	budgets *fakeBudgetRepo
	queue   *fakeQueue
	metrics *observability.Metrics
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	batches := &fakeBatchRepo{}
	jobs := &fakeJobRepo{}
	papers := &fakePaperRepo{}
	budgets := &fakeBudgetRepo{cfg: domain.BudgetConfig{DailyCapCents: 10000, MonthlyCapCents: 100000, AutoEnabled: true}}
	q := &fakeQueue{}

	logger := zerolog.Nop()
	metrics := observability.NewMetrics("batch_test_" + uuid.NewString()[:8])
	guard := budget.NewGuard(budgets, jobs, metrics, logger)
	dispatcher := NewDispatcher(jobs, q, guard, rate.NewLimiter(rate.Inf, 0), metrics, logger)
	cfg := config.BatchConfig{Model: "gpt-4o-mini", DefaultScope: "newest", EstimatedCostCents: 3}
	manager := NewManager(batches, papers, dispatcher, guard, q, cfg, metrics, logger)

	return &managerFixture{manager: manager, batches: batches, jobs: jobs, papers: papers, budgets: budgets, queue: q, metrics: metrics}
}

func somePapers(n int) []*domain.Paper {
	papers := make([]*domain.Paper, n)
	for i := range papers {
		papers[i] = &domain.Paper{ID: uuid.New(), Title: "Paper"}
	}
	return papers
}

func TestManagerStart(t *testing.T) {
	ctx := context.Background()

	t.Run("starts a batch and enqueues every job", func(t *testing.T) {
		f := newManagerFixture(t)
		f.papers.papers = somePapers(5)

		result, err := f.manager.Start(ctx, StartOptions{RequestedSize: 5})
		require.NoError(t, err)
		require.NotNil(t, result.Batch)

		assert.Equal(t, domain.BatchStatusRunning, result.Batch.Status)
		assert.Equal(t, 5, result.Batch.Size)
		assert.Equal(t, "gpt-4o-mini", result.Batch.Model)
		assert.Equal(t, "newest", result.Batch.Scope)
		assert.Equal(t, 5, result.Enqueued)
		assert.Len(t, f.batches.createdJobs, 5)
		assert.Len(t, f.queue.messages, 5)
		for i, msg := range f.queue.messages {
			assert.Equal(t, result.Batch.ID, msg.BatchID)
			assert.Equal(t, f.batches.createdJobs[i].ID, msg.JobID)
		}
	})

	t.Run("zero requested size selects the default", func(t *testing.T) {
		f := newManagerFixture(t)
		f.papers.papers = somePapers(domain.DefaultBatchSize + 5)

		result, err := f.manager.Start(ctx, StartOptions{})
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultBatchSize, result.Batch.Size)
	})

	t.Run("shrinks to the eligible paper count", func(t *testing.T) {
		f := newManagerFixture(t)
		f.papers.papers = somePapers(3)

		result, err := f.manager.Start(ctx, StartOptions{RequestedSize: 100})
		require.NoError(t, err)
		assert.Equal(t, 100, result.Batch.RequestedSize)
		assert.Equal(t, 3, result.Batch.Size)
	})

	t.Run("no unanalyzed papers is a no-op success", func(t *testing.T) {
		f := newManagerFixture(t)

		result, err := f.manager.Start(ctx, StartOptions{RequestedSize: 10})
		require.NoError(t, err)
		assert.Nil(t, result.Batch)
		assert.NotEmpty(t, result.Message)
		assert.Nil(t, f.batches.active)
		assert.Empty(t, f.queue.messages)
	})

	t.Run("rejects when another batch is active", func(t *testing.T) {
		f := newManagerFixture(t)
		f.papers.papers = somePapers(5)
		holder := &domain.Batch{ID: uuid.New(), Status: domain.BatchStatusPaused}
		f.batches.active = holder

		_, err := f.manager.Start(ctx, StartOptions{RequestedSize: 5})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrBatchActive)

		var activeErr *domain.BatchActiveError
		require.ErrorAs(t, err, &activeErr)
		assert.Equal(t, holder.ID, activeErr.BatchID)
		assert.Equal(t, domain.BatchStatusPaused, activeErr.Status)
	})

	t.Run("active batch check precedes the budget check", func(t *testing.T) {
		f := newManagerFixture(t)
		f.papers.papers = somePapers(5)
		f.batches.active = &domain.Batch{ID: uuid.New(), Status: domain.BatchStatusRunning}
		f.budgets.cfg.Paused = true

		_, err := f.manager.Start(ctx, StartOptions{RequestedSize: 5})
		assert.ErrorIs(t, err, domain.ErrBatchActive)
	})

	t.Run("rejects when the budget has no headroom", func(t *testing.T) {
		f := newManagerFixture(t)
		f.papers.papers = somePapers(5)
		f.budgets.cfg.DailyCapCents = 10
		f.jobs.spend = 9

		_, err := f.manager.Start(ctx, StartOptions{RequestedSize: 5})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrBudgetExceeded)
		assert.Nil(t, f.batches.active)
	})

	t.Run("scheduled start requires auto mode", func(t *testing.T) {
		f := newManagerFixture(t)
		f.papers.papers = somePapers(5)
		f.budgets.cfg.AutoEnabled = false

		_, err := f.manager.Start(ctx, StartOptions{RequestedSize: 5, Scheduled: true})
		assert.ErrorIs(t, err, domain.ErrAutoDisabled)
		assert.Equal(t, 1.0,
			testutil.ToFloat64(f.metrics.BatchesRejected.WithLabelValues("auto_disabled")),
			"one rejection must count once")

		// An operator-initiated start is unaffected by the auto flag.
		result, err := f.manager.Start(ctx, StartOptions{RequestedSize: 5})
		require.NoError(t, err)
		assert.NotNil(t, result.Batch)
	})

	t.Run("enqueue failures leave the job pending without failing the start", func(t *testing.T) {
		f := newManagerFixture(t)
		papers := somePapers(4)
		f.papers.papers = papers
		f.queue.failPapers = map[uuid.UUID]bool{papers[1].ID: true, papers[3].ID: true}

		result, err := f.manager.Start(ctx, StartOptions{RequestedSize: 4})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Enqueued)
		assert.Equal(t, 4, result.Batch.Size)
		assert.Len(t, f.queue.messages, 2)
		for _, job := range f.batches.createdJobs {
			assert.Equal(t, domain.JobStatusPending, job.Status)
		}
	})

	t.Run("propagates a create race as a conflict", func(t *testing.T) {
		f := newManagerFixture(t)
		f.papers.papers = somePapers(2)
		f.batches.createErr = &domain.BatchActiveError{BatchID: uuid.New(), Status: domain.BatchStatusRunning}

		_, err := f.manager.Start(ctx, StartOptions{RequestedSize: 2})
		assert.ErrorIs(t, err, domain.ErrBatchActive)
	})
}

func TestManagerPauseResume(t *testing.T) {
	ctx := context.Background()

	t.Run("pauses the running batch and signals the queue", func(t *testing.T) {
		f := newManagerFixture(t)
		f.batches.active = &domain.Batch{ID: uuid.New(), Status: domain.BatchStatusRunning, Size: 3}

		paused, err := f.manager.Pause(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusPaused, paused.Status)
		assert.True(t, f.queue.paused)
	})

	t.Run("resumes the paused batch", func(t *testing.T) {
		f := newManagerFixture(t)
		f.batches.active = &domain.Batch{ID: uuid.New(), Status: domain.BatchStatusPaused, Size: 3}
		f.queue.paused = true

		resumed, err := f.manager.Resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusRunning, resumed.Status)
		assert.False(t, f.queue.paused)
	})

	t.Run("pause without a running batch is informational", func(t *testing.T) {
		f := newManagerFixture(t)

		_, err := f.manager.Pause(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("pause of an already paused batch does not double-pause", func(t *testing.T) {
		f := newManagerFixture(t)
		f.batches.active = &domain.Batch{ID: uuid.New(), Status: domain.BatchStatusPaused, Size: 3}

		_, err := f.manager.Pause(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, domain.BatchStatusPaused, f.batches.active.Status)
	})

	t.Run("resume of a running batch is informational", func(t *testing.T) {
		f := newManagerFixture(t)
		f.batches.active = &domain.Batch{ID: uuid.New(), Status: domain.BatchStatusRunning, Size: 3}

		_, err := f.manager.Resume(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, domain.BatchStatusRunning, f.batches.active.Status)
	})
}

func TestManagerCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels the active batch and drains the queue", func(t *testing.T) {
		f := newManagerFixture(t)
		f.papers.papers = somePapers(5)

		started, err := f.manager.Start(ctx, StartOptions{RequestedSize: 5})
		require.NoError(t, err)
		started.Batch.Completed = 2

		cancelled, forceFailed, err := f.manager.Cancel(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusCancelled, cancelled.Status)
		assert.Equal(t, 3, forceFailed)
		assert.Equal(t, 3, cancelled.Failed)
		assert.Empty(t, f.queue.messages)
	})

	t.Run("cancel works on a paused batch", func(t *testing.T) {
		f := newManagerFixture(t)
		f.batches.active = &domain.Batch{ID: uuid.New(), Status: domain.BatchStatusPaused, Size: 2}

		cancelled, forceFailed, err := f.manager.Cancel(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusCancelled, cancelled.Status)
		assert.Equal(t, 2, forceFailed)
	})

	t.Run("cancel without an active batch is informational", func(t *testing.T) {
		f := newManagerFixture(t)

		_, _, err := f.manager.Cancel(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("drain failure does not undo the cancel", func(t *testing.T) {
		f := newManagerFixture(t)
		f.batches.active = &domain.Batch{ID: uuid.New(), Status: domain.BatchStatusRunning, Size: 1}
		f.queue.drainErr = domain.NewQueueError("drain", errors.New("connection reset"))

		cancelled, _, err := f.manager.Cancel(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusCancelled, cancelled.Status)
	})
}
