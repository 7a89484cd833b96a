// Package budget provides the spend cap configuration and the advisory
// gate that decides whether a new analysis batch may start.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperstack/analysis-service/internal/domain"
	"github.com/paperstack/analysis-service/internal/observability"
	"github.com/paperstack/analysis-service/internal/repository"
)

// SpendSummary holds the rolled-up completed-job cost for the two budget windows.
type SpendSummary struct {
	TodayCents     int64 `json:"today_cents"`
	ThisMonthCents int64 `json:"this_month_cents"`
}

// Guard holds configured spend caps and computes whether a candidate batch
// still has headroom. The check is advisory-at-start: it gates new batches
// but never clamps a batch mid-flight.
type Guard struct {
	budgets repository.BudgetRepository
	jobs    repository.JobRepository
	metrics *observability.Metrics
	logger  zerolog.Logger

	// now is swapped out in tests to pin the UTC windows.
	now func() time.Time
}

// NewGuard creates a budget guard.
func NewGuard(
	budgets repository.BudgetRepository,
	jobs repository.JobRepository,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Guard {
	return &Guard{
		budgets: budgets,
		jobs:    jobs,
		metrics: metrics,
		logger:  logger.With().Str("component", "budget_guard").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetConfig returns the current budget configuration, creating the default
// record on first access.
func (g *Guard) GetConfig(ctx context.Context) (*domain.BudgetConfig, error) {
	return g.budgets.Get(ctx)
}

// SetBudget validates and persists new spending caps.
func (g *Guard) SetBudget(ctx context.Context, dailyCents, monthlyCents int64, autoEnabled bool) (*domain.BudgetConfig, error) {
	cfg, err := g.budgets.SetCaps(ctx, dailyCents, monthlyCents, autoEnabled)
	if err != nil {
		return nil, err
	}

	g.logger.Info().
		Int64("daily_cap_cents", dailyCents).
		Int64("monthly_cap_cents", monthlyCents).
		Bool("auto_enabled", autoEnabled).
		Msg("budget caps updated")

	return cfg, nil
}

// SetPaused sets or clears the manual budget pause flag.
func (g *Guard) SetPaused(ctx context.Context, paused bool, reason string) (*domain.BudgetConfig, error) {
	return g.budgets.SetPaused(ctx, paused, reason)
}

// SpendToday sums the cost of jobs completed in the current UTC day.
func (g *Guard) SpendToday(ctx context.Context) (int64, error) {
	now := g.now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return g.jobs.SpendBetween(ctx, from, from.Add(24*time.Hour))
}

// SpendThisMonth sums the cost of jobs completed in the current UTC calendar month.
func (g *Guard) SpendThisMonth(ctx context.Context) (int64, error) {
	now := g.now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return g.jobs.SpendBetween(ctx, from, from.AddDate(0, 1, 0))
}

// Spend returns both window rollups.
func (g *Guard) Spend(ctx context.Context) (SpendSummary, error) {
	today, err := g.SpendToday(ctx)
	if err != nil {
		return SpendSummary{}, err
	}
	month, err := g.SpendThisMonth(ctx)
	if err != nil {
		return SpendSummary{}, err
	}
	return SpendSummary{TodayCents: today, ThisMonthCents: month}, nil
}

// CheckStart decides whether a batch with the given estimated cost may
// start. It fails with ErrBudgetExceeded when the budget is paused or a
// cap lacks headroom, and with ErrAutoDisabled when a scheduled start is
// attempted while unattended batches are off. A cap of zero means the
// window is disabled: zero headroom, always blocked.
func (g *Guard) CheckStart(ctx context.Context, estimatedCostCents int64, scheduled bool) error {
	cfg, err := g.budgets.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read budget config: %w", err)
	}

	if scheduled && !cfg.AutoEnabled {
		return domain.ErrAutoDisabled
	}

	if cfg.Paused {
		g.metrics.RecordBudgetBlock("paused")
		return &domain.BudgetExceededError{
			DailyCapCents:   cfg.DailyCapCents,
			MonthlyCapCents: cfg.MonthlyCapCents,
			Reason:          pausedReason(cfg),
		}
	}

	// A cap of zero disables its window outright; no estimate, not even a
	// free one, can fit in zero headroom.
	if cfg.DailyCapCents == 0 {
		g.metrics.RecordBudgetBlock("daily")
		return &domain.BudgetExceededError{
			MonthlyCapCents: cfg.MonthlyCapCents,
			Reason:          "daily cap is zero, analyses disabled",
		}
	}
	if cfg.MonthlyCapCents == 0 {
		g.metrics.RecordBudgetBlock("monthly")
		return &domain.BudgetExceededError{
			DailyCapCents: cfg.DailyCapCents,
			Reason:        "monthly cap is zero, analyses disabled",
		}
	}

	spend, err := g.Spend(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute spend: %w", err)
	}

	if spend.TodayCents+estimatedCostCents > cfg.DailyCapCents {
		g.metrics.RecordBudgetBlock("daily")
		return &domain.BudgetExceededError{
			SpentTodayCents:     spend.TodayCents,
			SpentThisMonthCents: spend.ThisMonthCents,
			DailyCapCents:       cfg.DailyCapCents,
			MonthlyCapCents:     cfg.MonthlyCapCents,
		}
	}

	if spend.ThisMonthCents+estimatedCostCents > cfg.MonthlyCapCents {
		g.metrics.RecordBudgetBlock("monthly")
		return &domain.BudgetExceededError{
			SpentTodayCents:     spend.TodayCents,
			SpentThisMonthCents: spend.ThisMonthCents,
			DailyCapCents:       cfg.DailyCapCents,
			MonthlyCapCents:     cfg.MonthlyCapCents,
		}
	}

	return nil
}

// NoteSpend is called after each applied completion rollup. When the new
// spend crosses a configured cap it sets the pause flag so that subsequent
// starts are blocked. The running batch is not interrupted.
func (g *Guard) NoteSpend(ctx context.Context) {
	cfg, err := g.budgets.Get(ctx)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to read budget config for spend check")
		return
	}
	if cfg.Paused {
		return
	}

	spend, err := g.Spend(ctx)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to compute spend for cap check")
		return
	}

	var reason string
	switch {
	case cfg.DailyCapCents > 0 && spend.TodayCents >= cfg.DailyCapCents:
		reason = fmt.Sprintf("daily cap reached: %d¢ of %d¢", spend.TodayCents, cfg.DailyCapCents)
	case cfg.MonthlyCapCents > 0 && spend.ThisMonthCents >= cfg.MonthlyCapCents:
		reason = fmt.Sprintf("monthly cap reached: %d¢ of %d¢", spend.ThisMonthCents, cfg.MonthlyCapCents)
	default:
		return
	}

	if _, err := g.budgets.SetPaused(ctx, true, reason); err != nil {
		g.logger.Error().Err(err).Str("reason", reason).Msg("failed to auto-pause budget")
		return
	}

	g.metrics.RecordBudgetAutoPause()
	g.logger.Warn().Str("reason", reason).Msg("budget auto-paused")
}

// pausedReason describes why the budget pause flag blocks a start.
func pausedReason(cfg *domain.BudgetConfig) string {
	if cfg.PauseReason != "" {
		return "budget paused: " + cfg.PauseReason
	}
	return "budget paused"
}
