package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/paperstack/analysis-service/internal/domain"
)

// budgetColumns is the canonical column list for scanning the budget_config row.
const budgetColumns = `daily_cap_cents, monthly_cap_cents, auto_enabled,
		paused, pause_reason, updated_at`

// budgetRowID is the fixed primary key of the budget_config singleton row.
const budgetRowID = 1

// Compile-time interface verification.
var _ BudgetRepository = (*PgBudgetRepository)(nil)

// PgBudgetRepository is a PostgreSQL implementation of BudgetRepository.
// The configuration lives in a single fixed row that is lazily created
// with defaults on first access.
type PgBudgetRepository struct {
	db DBTX
}

// NewPgBudgetRepository creates a new PostgreSQL budget repository.
func NewPgBudgetRepository(db DBTX) *PgBudgetRepository {
	return &PgBudgetRepository{db: db}
}

// Get returns the budget configuration, creating the default row on first access.
func (r *PgBudgetRepository) Get(ctx context.Context) (*domain.BudgetConfig, error) {
	cfg, err := r.read(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get budget config: %w", err)
	}

	if err := r.ensureRow(ctx); err != nil {
		return nil, err
	}

	cfg, err = r.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get budget config after init: %w", err)
	}
	return cfg, nil
}

// SetCaps updates the spending caps and the auto-batch flag.
func (r *PgBudgetRepository) SetCaps(ctx context.Context, dailyCents, monthlyCents int64, autoEnabled bool) (*domain.BudgetConfig, error) {
	if err := domain.ValidateCaps(dailyCents, monthlyCents); err != nil {
		return nil, err
	}

	if err := r.ensureRow(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		UPDATE budget_config
		SET daily_cap_cents = $1, monthly_cap_cents = $2, auto_enabled = $3, updated_at = $4
		WHERE id = $5
		RETURNING %s`, budgetColumns)

	cfg, err := scanBudgetConfig(r.db.QueryRow(ctx, query,
		dailyCents, monthlyCents, autoEnabled, time.Now().UTC(), budgetRowID))
	if err != nil {
		return nil, fmt.Errorf("failed to update budget caps: %w", err)
	}

	return cfg, nil
}

// SetPaused sets or clears the budget pause flag.
func (r *PgBudgetRepository) SetPaused(ctx context.Context, paused bool, reason string) (*domain.BudgetConfig, error) {
	if err := r.ensureRow(ctx); err != nil {
		return nil, err
	}

	if !paused {
		reason = ""
	}

	query := fmt.Sprintf(`
		UPDATE budget_config
		SET paused = $1, pause_reason = $2, updated_at = $3
		WHERE id = $4
		RETURNING %s`, budgetColumns)

	cfg, err := scanBudgetConfig(r.db.QueryRow(ctx, query,
		paused, nullString(reason), time.Now().UTC(), budgetRowID))
	if err != nil {
		return nil, fmt.Errorf("failed to update budget pause flag: %w", err)
	}

	return cfg, nil
}

// read fetches the singleton row without creating it.
func (r *PgBudgetRepository) read(ctx context.Context) (*domain.BudgetConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM budget_config WHERE id = $1`, budgetColumns)
	return scanBudgetConfig(r.db.QueryRow(ctx, query, budgetRowID))
}

// ensureRow creates the singleton row with defaults if it does not exist.
// Concurrent creators race harmlessly on the fixed primary key.
func (r *PgBudgetRepository) ensureRow(ctx context.Context) error {
	defaults := domain.DefaultBudgetConfig()

	query := `
		INSERT INTO budget_config (id, daily_cap_cents, monthly_cap_cents, auto_enabled, paused, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		budgetRowID, defaults.DailyCapCents, defaults.MonthlyCapCents,
		defaults.AutoEnabled, defaults.Paused, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to initialize budget config: %w", err)
	}

	return nil
}

// scanBudgetConfig scans a budget_config row.
func scanBudgetConfig(row pgx.Row) (*domain.BudgetConfig, error) {
	var (
		cfg         domain.BudgetConfig
		pauseReason *string
	)
	err := row.Scan(
		&cfg.DailyCapCents, &cfg.MonthlyCapCents, &cfg.AutoEnabled,
		&cfg.Paused, &pauseReason, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pauseReason != nil {
		cfg.PauseReason = *pauseReason
	}
	return &cfg, nil
}
