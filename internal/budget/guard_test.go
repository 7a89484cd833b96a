package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperstack/analysis-service/internal/domain"
	"github.com/paperstack/analysis-service/internal/observability"
	"github.com/paperstack/analysis-service/internal/repository"
)

// fakeBudgetRepo is an in-memory BudgetRepository.
type fakeBudgetRepo struct {
	cfg domain.BudgetConfig
}

func (f *fakeBudgetRepo) Get(ctx context.Context) (*domain.BudgetConfig, error) {
	cfg := f.cfg
	return &cfg, nil
}

func (f *fakeBudgetRepo) SetCaps(ctx context.Context, daily, monthly int64, auto bool) (*domain.BudgetConfig, error) {
	if err := domain.ValidateCaps(daily, monthly); err != nil {
		return nil, err
	}
	f.cfg.DailyCapCents = daily
	f.cfg.MonthlyCapCents = monthly
	f.cfg.AutoEnabled = auto
	f.cfg.UpdatedAt = time.Now().UTC()
	cfg := f.cfg
	return &cfg, nil
}

func (f *fakeBudgetRepo) SetPaused(ctx context.Context, paused bool, reason string) (*domain.BudgetConfig, error) {
	f.cfg.Paused = paused
	if paused {
		f.cfg.PauseReason = reason
	} else {
		f.cfg.PauseReason = ""
	}
	cfg := f.cfg
	return &cfg, nil
}

// fakeJobRepo answers SpendBetween from a fixed map of completion times to costs.
type fakeJobRepo struct {
	completions map[time.Time]int64
}

func (f *fakeJobRepo) SpendBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	for at, cost := range f.completions {
		if !at.Before(from) && at.Before(to) {
			total += cost
		}
	}
	return total, nil
}

func (f *fakeJobRepo) ReportOutcome(ctx context.Context, jobID uuid.UUID, outcome domain.JobOutcome) (*repository.OutcomeResult, error) {
	panic("not used")
}

func (f *fakeJobRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	panic("not used")
}

func (f *fakeJobRepo) ListTerminalRecent(ctx context.Context, limit int) ([]*domain.Job, error) {
	panic("not used")
}

func (f *fakeJobRepo) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Job, error) {
	panic("not used")
}

// newTestGuard builds a guard pinned to a fixed instant.
func newTestGuard(budgets *fakeBudgetRepo, jobs *fakeJobRepo, at time.Time) *Guard {
	g := NewGuard(budgets, jobs, observability.NewMetrics("budget_test_"+uuid.NewString()[:8]), zerolog.Nop())
	g.now = func() time.Time { return at }
	return g
}

func TestGuard_Spend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)

	jobs := &fakeJobRepo{completions: map[time.Time]int64{
		now.Add(-time.Hour):           10, // today
		now.Add(-26 * time.Hour):      20, // yesterday, still this month
		now.AddDate(0, -1, 0):         40, // last month
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC): 5, // first of month
	}}
	g := newTestGuard(&fakeBudgetRepo{}, jobs, now)

	spend, err := g.Spend(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), spend.TodayCents)
	assert.Equal(t, int64(35), spend.ThisMonthCents)
}

func TestGuard_CheckStart(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		cfg       domain.BudgetConfig
		spent     int64 // completed today
		estimate  int64
		scheduled bool
		wantErr   error
	}{
		{
			name:     "headroom in both windows",
			cfg:      domain.BudgetConfig{DailyCapCents: 100, MonthlyCapCents: 1000},
			spent:    50,
			estimate: 30,
		},
		{
			name:     "zero daily cap blocks even a free estimate",
			cfg:      domain.BudgetConfig{DailyCapCents: 0, MonthlyCapCents: 1000},
			spent:    0,
			estimate: 0,
			wantErr:  domain.ErrBudgetExceeded,
		},
		{
			name:     "zero monthly cap blocks even a free estimate",
			cfg:      domain.BudgetConfig{DailyCapCents: 1000, MonthlyCapCents: 0},
			spent:    0,
			estimate: 0,
			wantErr:  domain.ErrBudgetExceeded,
		},
		{
			name:     "daily cap exceeded",
			cfg:      domain.BudgetConfig{DailyCapCents: 100, MonthlyCapCents: 1000},
			spent:    90,
			estimate: 20,
			wantErr:  domain.ErrBudgetExceeded,
		},
		{
			name:     "monthly cap exceeded",
			cfg:      domain.BudgetConfig{DailyCapCents: 1000, MonthlyCapCents: 100},
			spent:    90,
			estimate: 20,
			wantErr:  domain.ErrBudgetExceeded,
		},
		{
			name:     "paused blocks regardless of headroom",
			cfg:      domain.BudgetConfig{DailyCapCents: 1000, MonthlyCapCents: 1000, Paused: true, PauseReason: "manual"},
			spent:    0,
			estimate: 1,
			wantErr:  domain.ErrBudgetExceeded,
		},
		{
			name:      "scheduled start with auto disabled",
			cfg:       domain.BudgetConfig{DailyCapCents: 1000, MonthlyCapCents: 1000, AutoEnabled: false},
			scheduled: true,
			estimate:  1,
			wantErr:   domain.ErrAutoDisabled,
		},
		{
			name:      "scheduled start with auto enabled",
			cfg:       domain.BudgetConfig{DailyCapCents: 1000, MonthlyCapCents: 1000, AutoEnabled: true},
			scheduled: true,
			estimate:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobRepo{completions: map[time.Time]int64{
				now.Add(-time.Hour): tt.spent,
			}}
			g := newTestGuard(&fakeBudgetRepo{cfg: tt.cfg}, jobs, now)

			err := g.CheckStart(ctx, tt.estimate, tt.scheduled)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

func TestGuard_CheckStart_CarriesSpendFigures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)

	jobs := &fakeJobRepo{completions: map[time.Time]int64{now.Add(-time.Hour): 90}}
	g := newTestGuard(&fakeBudgetRepo{cfg: domain.BudgetConfig{DailyCapCents: 100, MonthlyCapCents: 1000}}, jobs, now)

	err := g.CheckStart(ctx, 20, false)
	var exceeded *domain.BudgetExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, int64(90), exceeded.SpentTodayCents)
	assert.Equal(t, int64(100), exceeded.DailyCapCents)
}

func TestGuard_NoteSpend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)

	t.Run("auto-pauses when daily cap is reached", func(t *testing.T) {
		budgets := &fakeBudgetRepo{cfg: domain.BudgetConfig{DailyCapCents: 100, MonthlyCapCents: 10000}}
		jobs := &fakeJobRepo{completions: map[time.Time]int64{now.Add(-time.Hour): 120}}
		g := newTestGuard(budgets, jobs, now)

		g.NoteSpend(ctx)

		assert.True(t, budgets.cfg.Paused)
		assert.Contains(t, budgets.cfg.PauseReason, "daily cap reached")
	})

	t.Run("leaves budget alone under the caps", func(t *testing.T) {
		budgets := &fakeBudgetRepo{cfg: domain.BudgetConfig{DailyCapCents: 100, MonthlyCapCents: 10000}}
		jobs := &fakeJobRepo{completions: map[time.Time]int64{now.Add(-time.Hour): 50}}
		g := newTestGuard(budgets, jobs, now)

		g.NoteSpend(ctx)

		assert.False(t, budgets.cfg.Paused)
	})

	t.Run("zero caps never auto-pause", func(t *testing.T) {
		budgets := &fakeBudgetRepo{}
		jobs := &fakeJobRepo{completions: map[time.Time]int64{now.Add(-time.Hour): 50}}
		g := newTestGuard(budgets, jobs, now)

		g.NoteSpend(ctx)

		assert.False(t, budgets.cfg.Paused)
	})
}
