package httpserver

import (
	"time"

	"github.com/paperstack/analysis-service/internal/batch"
	"github.com/paperstack/analysis-service/internal/budget"
	"github.com/paperstack/analysis-service/internal/domain"
)

// Batch response types for JSON serialization.

type batchResponse struct {
	BatchID        string     `json:"batch_id"`
	Status         string     `json:"status"`
	RequestedSize  int        `json:"requested_size"`
	Size           int        `json:"size"`
	Model          string     `json:"model"`
	Scope          string     `json:"scope,omitempty"`
	Completed      int        `json:"completed"`
	Failed         int        `json:"failed"`
	Remaining      int        `json:"remaining"`
	TotalCostCents int64      `json:"total_cost_cents"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

type startBatchResponse struct {
	Batch    *batchResponse `json:"batch,omitempty"`
	Enqueued int            `json:"enqueued"`
	Message  string         `json:"message,omitempty"`
}

type controlBatchResponse struct {
	Batch   batchResponse `json:"batch"`
	Message string        `json:"message"`
}

type cancelBatchResponse struct {
	Batch       batchResponse `json:"batch"`
	ForceFailed int           `json:"force_failed"`
	Message     string        `json:"message"`
}

type historyEntryResponse struct {
	batchResponse
	AvgCostPerCompletedCents int64   `json:"avg_cost_per_completed_cents"`
	DurationSeconds          float64 `json:"duration_seconds"`
}

type historyResponse struct {
	Batches    []historyEntryResponse `json:"batches"`
	TotalCount int                    `json:"total_count"`
}

type activityEntryResponse struct {
	JobID        string     `json:"job_id"`
	BatchID      string     `json:"batch_id"`
	PaperID      string     `json:"paper_id"`
	PaperTitle   string     `json:"paper_title,omitempty"`
	Status       string     `json:"status"`
	CostCents    int        `json:"cost_cents"`
	TokensUsed   int        `json:"tokens_used"`
	DurationMs   int64      `json:"duration_ms"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type activityResponse struct {
	Jobs []activityEntryResponse `json:"jobs"`
}

type coverageResponse struct {
	TotalPapers    int64   `json:"total_papers"`
	AnalyzedPapers int64   `json:"analyzed_papers"`
	Percent        float64 `json:"percent"`
}

type budgetResponse struct {
	DailyCapCents   int64     `json:"daily_cap_cents"`
	MonthlyCapCents int64     `json:"monthly_cap_cents"`
	AutoEnabled     bool      `json:"auto_enabled"`
	Paused          bool      `json:"paused"`
	PauseReason     string    `json:"pause_reason,omitempty"`
	SpendToday      int64     `json:"spend_today_cents"`
	SpendThisMonth  int64     `json:"spend_this_month_cents"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type statusResponse struct {
	CurrentBatch *batchResponse   `json:"current_batch,omitempty"`
	Coverage     coverageResponse `json:"coverage"`
	Budget       budgetResponse   `json:"budget"`
	QueueDepth   int64            `json:"queue_depth"`
	QueuePaused  bool             `json:"queue_paused"`
}

// Converter functions

func domainBatchToResponse(b *domain.Batch) batchResponse {
	return batchResponse{
		BatchID:        b.ID.String(),
		Status:         string(b.Status),
		RequestedSize:  b.RequestedSize,
		Size:           b.Size,
		Model:          b.Model,
		Scope:          b.Scope,
		Completed:      b.Completed,
		Failed:         b.Failed,
		Remaining:      b.Remaining(),
		TotalCostCents: b.TotalCostCents,
		CreatedAt:      b.CreatedAt,
		StartedAt:      b.StartedAt,
		FinishedAt:     b.FinishedAt,
	}
}

func historyEntryToResponse(e batch.HistoryEntry) historyEntryResponse {
	return historyEntryResponse{
		batchResponse:            domainBatchToResponse(e.Batch),
		AvgCostPerCompletedCents: e.AvgCostPerCompletedCents,
		DurationSeconds:          e.DurationSeconds,
	}
}

func activityEntryToResponse(e batch.ActivityEntry) activityEntryResponse {
	return activityEntryResponse{
		JobID:        e.ID.String(),
		BatchID:      e.BatchID.String(),
		PaperID:      e.PaperID.String(),
		PaperTitle:   e.PaperTitle,
		Status:       string(e.Status),
		CostCents:    e.CostCents,
		TokensUsed:   e.TokensUsed,
		DurationMs:   e.DurationMs,
		ErrorMessage: e.ErrorMessage,
		CompletedAt:  e.CompletedAt,
	}
}

func budgetToResponse(cfg *domain.BudgetConfig, spend budget.SpendSummary) budgetResponse {
	return budgetResponse{
		DailyCapCents:   cfg.DailyCapCents,
		MonthlyCapCents: cfg.MonthlyCapCents,
		AutoEnabled:     cfg.AutoEnabled,
		Paused:          cfg.Paused,
		PauseReason:     cfg.PauseReason,
		SpendToday:      spend.TodayCents,
		SpendThisMonth:  spend.ThisMonthCents,
		UpdatedAt:       cfg.UpdatedAt,
	}
}
