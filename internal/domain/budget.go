package domain

import "time"

// BudgetConfig is the process-wide budget configuration singleton.
// Caps are currency minor units; a cap of zero means the corresponding
// window is disabled (no spend allowed), not unlimited.
type BudgetConfig struct {
	DailyCapCents   int64 `json:"daily_cap_cents"`
	MonthlyCapCents int64 `json:"monthly_cap_cents"`

	// AutoEnabled controls whether unattended (scheduled) batches may start.
	AutoEnabled bool `json:"auto_enabled"`

	// Paused blocks all new batches. Set manually, or automatically when
	// a cap is breached.
	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultBudgetConfig returns the configuration created on first access:
// zero caps (everything disabled) and automatic batches off.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		DailyCapCents:   0,
		MonthlyCapCents: 0,
		AutoEnabled:     false,
	}
}

// ValidateCaps checks that budget cap values are acceptable.
func ValidateCaps(dailyCents, monthlyCents int64) error {
	if dailyCents < 0 {
		return NewValidationError("daily_cap_cents", "must be non-negative")
	}
	if monthlyCents < 0 {
		return NewValidationError("monthly_cap_cents", "must be non-negative")
	}
	return nil
}
