package repository

import (
	"context"

	"github.com/paperstack/analysis-service/internal/domain"
)

// BudgetRepository manages the budget configuration singleton.
type BudgetRepository interface {
	// Get returns the budget configuration, creating the default row on
	// first access.
	Get(ctx context.Context) (*domain.BudgetConfig, error)

	// SetCaps updates the spending caps and the auto-batch flag.
	SetCaps(ctx context.Context, dailyCents, monthlyCents int64, autoEnabled bool) (*domain.BudgetConfig, error)

	// SetPaused sets or clears the budget pause flag. The reason is stored
	// when pausing and cleared when resuming.
	SetPaused(ctx context.Context, paused bool, reason string) (*domain.BudgetConfig, error)
}
