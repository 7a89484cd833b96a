package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paperstack/analysis-service/internal/budget"
	"github.com/paperstack/analysis-service/internal/domain"
	"github.com/paperstack/analysis-service/internal/queue"
	"github.com/paperstack/analysis-service/internal/repository"
)

// List limits for the read-only admin projections.
const (
	defaultListLimit = 50
	maxListLimit     = 50
)

// Coverage summarizes how much of the paper catalog has been analyzed.
type Coverage struct {
	TotalPapers    int64   `json:"total_papers"`
	AnalyzedPapers int64   `json:"analyzed_papers"`
	Percent        float64 `json:"percent"`
}

// BudgetView combines the budget configuration with current spend.
type BudgetView struct {
	Config         *domain.BudgetConfig `json:"config"`
	SpendToday     int64                `json:"spend_today_cents"`
	SpendThisMonth int64                `json:"spend_this_month_cents"`
}

// Status is the full operational snapshot for the admin surface.
type Status struct {
	CurrentBatch *domain.Batch `json:"current_batch,omitempty"`
	Coverage     Coverage      `json:"coverage"`
	Budget       BudgetView    `json:"budget"`
	QueueDepth   int64         `json:"queue_depth"`
	QueuePaused  bool          `json:"queue_paused"`
}

// HistoryEntry is one finished batch with its derived cost figures.
type HistoryEntry struct {
	*domain.Batch
	AvgCostPerCompletedCents int64   `json:"avg_cost_per_completed_cents"`
	DurationSeconds          float64 `json:"duration_seconds"`
}

// ActivityEntry is one recently finished job annotated with its paper title.
type ActivityEntry struct {
	*domain.Job
	PaperTitle string `json:"paper_title,omitempty"`
}

// Aggregator assembles the read-only views: status, batch history, and
// recent job activity. It never mutates anything.
type Aggregator struct {
	batches repository.BatchRepository
	jobs    repository.JobRepository
	papers  repository.PaperRepository
	guard   *budget.Guard
	queue   queue.Queue
	logger  zerolog.Logger
}

// NewAggregator creates a status aggregator.
func NewAggregator(
	batches repository.BatchRepository,
	jobs repository.JobRepository,
	papers repository.PaperRepository,
	guard *budget.Guard,
	q queue.Queue,
	logger zerolog.Logger,
) *Aggregator {
	return &Aggregator{
		batches: batches,
		jobs:    jobs,
		papers:  papers,
		guard:   guard,
		queue:   q,
		logger:  logger.With().Str("component", "status_aggregator").Logger(),
	}
}

// Coverage computes catalog coverage. The percentage is rounded to one
// decimal place; an empty catalog reports zero.
func (a *Aggregator) Coverage(ctx context.Context) (Coverage, error) {
	total, err := a.papers.CountTotal(ctx)
	if err != nil {
		return Coverage{}, fmt.Errorf("counting papers: %w", err)
	}
	analyzed, err := a.papers.CountAnalyzed(ctx)
	if err != nil {
		return Coverage{}, fmt.Errorf("counting analyzed papers: %w", err)
	}

	cov := Coverage{TotalPapers: total, AnalyzedPapers: analyzed}
	if total > 0 {
		cov.Percent = math.Round(float64(analyzed)/float64(total)*1000) / 10
	}
	return cov, nil
}

// Status builds the operational snapshot. Queue figures are best-effort:
// if the queue is unreachable they are zeroed rather than failing the
// whole status call.
func (a *Aggregator) Status(ctx context.Context) (*Status, error) {
	s := &Status{}

	current, err := a.batches.GetActive(ctx)
	switch {
	case err == nil:
		s.CurrentBatch = current
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("loading active batch: %w", err)
	}

	s.Coverage, err = a.Coverage(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := a.guard.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading budget config: %w", err)
	}
	spend, err := a.guard.Spend(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading spend: %w", err)
	}
	s.Budget = BudgetView{
		Config:         cfg,
		SpendToday:     spend.TodayCents,
		SpendThisMonth: spend.ThisMonthCents,
	}

	if depth, err := a.queue.Depth(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("queue depth unavailable")
	} else {
		s.QueueDepth = depth
	}
	if paused, err := a.queue.Paused(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("queue pause state unavailable")
	} else {
		s.QueuePaused = paused
	}

	return s, nil
}

// History returns finished batches, newest first. The limit is clamped to
// at most 50 entries; zero selects the default.
func (a *Aggregator) History(ctx context.Context, limit, offset int) ([]HistoryEntry, int64, error) {
	limit = clampListLimit(limit)
	if offset < 0 {
		offset = 0
	}

	batches, total, err := a.batches.List(ctx, repository.BatchFilter{
		Status: []domain.BatchStatus{domain.BatchStatusCompleted, domain.BatchStatusCancelled},
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing batches: %w", err)
	}

	entries := make([]HistoryEntry, len(batches))
	for i, b := range batches {
		entries[i] = HistoryEntry{
			Batch:                    b,
			AvgCostPerCompletedCents: b.AvgCostPerCompletedCents(),
			DurationSeconds:          b.Duration().Round(time.Millisecond).Seconds(),
		}
	}
	return entries, total, nil
}

// RecentActivity returns the most recently finished jobs annotated with
// paper titles, newest first, at most 50 entries.
func (a *Aggregator) RecentActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	limit = clampListLimit(limit)

	jobs, err := a.jobs.ListTerminalRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent jobs: %w", err)
	}
	if len(jobs) == 0 {
		return []ActivityEntry{}, nil
	}

	ids := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.PaperID
	}
	titles, err := a.papers.LookupTitles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving paper titles: %w", err)
	}

	entries := make([]ActivityEntry, len(jobs))
	for i, j := range jobs {
		entries[i] = ActivityEntry{Job: j, PaperTitle: titles[j.PaperID]}
	}
	return entries, nil
}

func clampListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
