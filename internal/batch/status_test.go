package batch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperstack/analysis-service/internal/budget"
	"github.com/paperstack/analysis-service/internal/domain"
	"github.com/paperstack/analysis-service/internal/observability"
)

type aggregatorFixture struct {
	agg     *Aggregator
	batches *fakeBatchRepo
	jobs    *fakeJobRepo
	papers  *fakePaperRepo
	budgets *fakeBudgetRepo
	queue   *fakeQueue
}

func newAggregatorFixture(t *testing.T) *aggregatorFixture {
	t.Helper()

	batches := &fakeBatchRepo{}
	jobs := &fakeJobRepo{}
	papers := &fakePaperRepo{}
	budgets := &fakeBudgetRepo{cfg: domain.BudgetConfig{DailyCapCents: 10000, MonthlyCapCents: 100000}}
	q := &fakeQueue{}

	logger := zerolog.Nop()
	metrics := observability.NewMetrics("status_test_" + uuid.NewString()[:8])
	guard := budget.NewGuard(budgets, jobs, metrics, logger)

	return &aggregatorFixture{
		agg:     NewAggregator(batches, jobs, papers, guard, q, logger),
		batches: batches,
		jobs:    jobs,
		papers:  papers,
		budgets: budgets,
		queue:   q,
	}
}

func TestAggregatorCoverage(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		total    int64
		analyzed int64
		want     float64
	}{
		{"empty catalog", 0, 0, 0},
		{"nothing analyzed", 100, 0, 0},
		{"fully analyzed", 100, 100, 100},
		{"rounds to one decimal", 3, 1, 33.3},
		{"rounds up", 3, 2, 66.7},
		{"small fraction", 10000, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAggregatorFixture(t)
			f.papers.total = tt.total
			f.papers.analyzed = tt.analyzed

			cov, err := f.agg.Coverage(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.total, cov.TotalPapers)
			assert.Equal(t, tt.analyzed, cov.AnalyzedPapers)
			assert.InDelta(t, tt.want, cov.Percent, 0.001)
		})
	}
}

func TestAggregatorStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("reports the active batch with coverage and budget", func(t *testing.T) {
		f := newAggregatorFixture(t)
		f.batches.active = &domain.Batch{ID: uuid.New(), Status: domain.BatchStatusRunning, Size: 10}
		f.papers.total = 200
		f.papers.analyzed = 50
		f.jobs.spend = 420

		status, err := f.agg.Status(ctx)
		require.NoError(t, err)
		require.NotNil(t, status.CurrentBatch)
		assert.Equal(t, f.batches.active.ID, status.CurrentBatch.ID)
		assert.InDelta(t, 25.0, status.Coverage.Percent, 0.001)
		assert.Equal(t, int64(420), status.Budget.SpendToday)
		assert.Equal(t, int64(420), status.Budget.SpendThisMonth)
		assert.Equal(t, int64(10000), status.Budget.Config.DailyCapCents)
	})

	t.Run("no active batch leaves the current batch nil", func(t *testing.T) {
		f := newAggregatorFixture(t)
		f.papers.total = 10

		status, err := f.agg.Status(ctx)
		require.NoError(t, err)
		assert.Nil(t, status.CurrentBatch)
	})

	t.Run("reflects the queue pause flag", func(t *testing.T) {
		f := newAggregatorFixture(t)
		f.queue.paused = true

		status, err := f.agg.Status(ctx)
		require.NoError(t, err)
		assert.True(t, status.QueuePaused)
	})
}

func TestAggregatorHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("annotates batches with derived cost and duration", func(t *testing.T) {
		f := newAggregatorFixture(t)
		started := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
		finished := started.Add(90 * time.Second)
		f.batches.history = []*domain.Batch{{
			ID: uuid.New(), Size: 10, Completed: 8, Failed: 2,
			TotalCostCents: 96, Status: domain.BatchStatusCompleted,
			StartedAt: &started, FinishedAt: &finished,
		}}

		entries, total, err := f.agg.History(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(12), entries[0].AvgCostPerCompletedCents)
		assert.InDelta(t, 90.0, entries[0].DurationSeconds, 0.001)
	})

	t.Run("clamps the limit to fifty", func(t *testing.T) {
		f := newAggregatorFixture(t)
		for i := 0; i < 80; i++ {
			f.batches.history = append(f.batches.history, &domain.Batch{
				ID: uuid.New(), Status: domain.BatchStatusCompleted,
			})
		}

		entries, total, err := f.agg.History(ctx, 500, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(80), total)
		assert.Len(t, entries, 50)
	})

	t.Run("pages past the first window with offset", func(t *testing.T) {
		f := newAggregatorFixture(t)
		for i := 0; i < 60; i++ {
			f.batches.history = append(f.batches.history, &domain.Batch{
				ID: uuid.New(), Status: domain.BatchStatusCompleted,
			})
		}

		entries, total, err := f.agg.History(ctx, 50, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(60), total)
		assert.Len(t, entries, 10)
	})
}

func TestAggregatorRecentActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("annotates jobs with paper titles", func(t *testing.T) {
		f := newAggregatorFixture(t)
		paperID := uuid.New()
		unknownPaperID := uuid.New()
		f.papers.titles = map[uuid.UUID]string{paperID: "Attention Is All You Need"}
		f.jobs.recent = []*domain.Job{
			{ID: uuid.New(), PaperID: paperID, Status: domain.JobStatusCompleted, CostCents: 4},
			{ID: uuid.New(), PaperID: unknownPaperID, Status: domain.JobStatusFailed},
		}

		entries, err := f.agg.RecentActivity(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "Attention Is All You Need", entries[0].PaperTitle)
		assert.Empty(t, entries[1].PaperTitle)
	})

	t.Run("empty history yields an empty slice", func(t *testing.T) {
		f := newAggregatorFixture(t)

		entries, err := f.agg.RecentActivity(ctx, 10)
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})

	t.Run("clamps the limit to fifty", func(t *testing.T) {
		f := newAggregatorFixture(t)
		for i := 0; i < 80; i++ {
			f.jobs.recent = append(f.jobs.recent, &domain.Job{ID: uuid.New(), PaperID: uuid.New()})
		}

		entries, err := f.agg.RecentActivity(ctx, 200)
		require.NoError(t, err)
		assert.Len(t, entries, 50)
	})
}
