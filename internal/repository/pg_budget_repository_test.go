package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperstack/analysis-service/internal/domain"
)

// budgetRowColumns matches the order of budgetColumns.
var budgetRowColumns = []string{
	"daily_cap_cents", "monthly_cap_cents", "auto_enabled",
	"paused", "pause_reason", "updated_at",
}

func TestPgBudgetRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns existing configuration", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgBudgetRepository(mock)

		mock.ExpectQuery("SELECT (.+) FROM budget_config").
			WithArgs(budgetRowID).
			WillReturnRows(pgxmock.NewRows(budgetRowColumns).
				AddRow(int64(500), int64(10000), true, false, nil, time.Now().UTC()))

		cfg, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(500), cfg.DailyCapCents)
		assert.Equal(t, int64(10000), cfg.MonthlyCapCents)
		assert.True(t, cfg.AutoEnabled)
		assert.False(t, cfg.Paused)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates default row on first access", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgBudgetRepository(mock)

		mock.ExpectQuery("SELECT (.+) FROM budget_config").
			WithArgs(budgetRowID).
			WillReturnRows(pgxmock.NewRows(budgetRowColumns))
		mock.ExpectExec("INSERT INTO budget_config").
			WithArgs(budgetRowID, int64(0), int64(0), false, false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectQuery("SELECT (.+) FROM budget_config").
			WithArgs(budgetRowID).
			WillReturnRows(pgxmock.NewRows(budgetRowColumns).
				AddRow(int64(0), int64(0), false, false, nil, time.Now().UTC()))

		cfg, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), cfg.DailyCapCents)
		assert.False(t, cfg.AutoEnabled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgBudgetRepository_SetCaps(t *testing.T) {
	ctx := context.Background()

	t.Run("updates caps and auto flag", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgBudgetRepository(mock)

		mock.ExpectExec("INSERT INTO budget_config").
			WithArgs(budgetRowID, int64(0), int64(0), false, false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("UPDATE budget_config").
			WithArgs(int64(1000), int64(25000), true, pgxmock.AnyArg(), budgetRowID).
			WillReturnRows(pgxmock.NewRows(budgetRowColumns).
				AddRow(int64(1000), int64(25000), true, false, nil, time.Now().UTC()))

		cfg, err := repo.SetCaps(ctx, 1000, 25000, true)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), cfg.DailyCapCents)
		assert.Equal(t, int64(25000), cfg.MonthlyCapCents)
		assert.True(t, cfg.AutoEnabled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects negative caps", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgBudgetRepository(mock)

		_, err = repo.SetCaps(ctx, -1, 0, false)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgBudgetRepository_SetPaused(t *testing.T) {
	ctx := context.Background()

	t.Run("pauses with reason", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgBudgetRepository(mock)

		mock.ExpectExec("INSERT INTO budget_config").
			WithArgs(budgetRowID, int64(0), int64(0), false, false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("UPDATE budget_config").
			WithArgs(true, pgxmock.AnyArg(), pgxmock.AnyArg(), budgetRowID).
			WillReturnRows(pgxmock.NewRows(budgetRowColumns).
				AddRow(int64(500), int64(0), false, true, nullString("daily cap breached"), time.Now().UTC()))

		cfg, err := repo.SetPaused(ctx, true, "daily cap breached")
		require.NoError(t, err)
		assert.True(t, cfg.Paused)
		assert.Equal(t, "daily cap breached", cfg.PauseReason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("resuming clears the reason", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgBudgetRepository(mock)

		mock.ExpectExec("INSERT INTO budget_config").
			WithArgs(budgetRowID, int64(0), int64(0), false, false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("UPDATE budget_config").
			WithArgs(false, pgxmock.AnyArg(), pgxmock.AnyArg(), budgetRowID).
			WillReturnRows(pgxmock.NewRows(budgetRowColumns).
				AddRow(int64(500), int64(0), false, false, nil, time.Now().UTC()))

		cfg, err := repo.SetPaused(ctx, false, "ignored")
		require.NoError(t, err)
		assert.False(t, cfg.Paused)
		assert.Empty(t, cfg.PauseReason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
