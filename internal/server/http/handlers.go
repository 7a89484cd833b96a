package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/paperstack/analysis-service/internal/batch"
	"github.com/paperstack/analysis-service/internal/domain"
)

// maxRequestBodySize caps admin request bodies at 1 MB.
const maxRequestBodySize = 1 << 20

var validate = validator.New()

// startBatchRequest is the JSON request body for starting an analysis batch.
type startBatchRequest struct {
	Size  int    `json:"size" validate:"gte=0,lte=10000"`
	Scope string `json:"scope,omitempty" validate:"max=100"`
}

// setBudgetRequest is the JSON request body for updating budget caps.
type setBudgetRequest struct {
	DailyCapCents   int64 `json:"daily_cap_cents" validate:"gte=0"`
	MonthlyCapCents int64 `json:"monthly_cap_cents" validate:"gte=0"`
	AutoEnabled     bool  `json:"auto_enabled"`
}

// startBatch handles POST /api/v1/admin/batches.
func (s *Server) startBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.manager.Start(r.Context(), batch.StartOptions{
		RequestedSize: req.Size,
		Scope:         req.Scope,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if result.Batch == nil {
		// Nothing eligible to analyze; a success, not an error.
		writeJSON(w, http.StatusOK, startBatchResponse{Message: result.Message})
		return
	}

	resp := domainBatchToResponse(result.Batch)
	writeJSON(w, http.StatusCreated, startBatchResponse{
		Batch:    &resp,
		Enqueued: result.Enqueued,
		Message:  "analysis batch started",
	})
}

// pauseBatch handles POST /api/v1/admin/batches/pause.
func (s *Server) pauseBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.manager.Pause(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlBatchResponse{
		Batch:   domainBatchToResponse(b),
		Message: "batch paused",
	})
}

// resumeBatch handles POST /api/v1/admin/batches/resume.
func (s *Server) resumeBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.manager.Resume(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlBatchResponse{
		Batch:   domainBatchToResponse(b),
		Message: "batch resumed",
	})
}

// cancelBatch handles POST /api/v1/admin/batches/cancel.
func (s *Server) cancelBatch(w http.ResponseWriter, r *http.Request) {
	b, forceFailed, err := s.manager.Cancel(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelBatchResponse{
		Batch:       domainBatchToResponse(b),
		ForceFailed: forceFailed,
		Message:     "batch cancelled",
	})
}

// listBatchHistory handles GET /api/v1/admin/batches.
func (s *Server) listBatchHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimitParam(r)
	offset := parseQueryInt(r, "offset")

	entries, total, err := s.aggregator.History(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	batches := make([]historyEntryResponse, len(entries))
	for i, e := range entries {
		batches[i] = historyEntryToResponse(e)
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Batches:    batches,
		TotalCount: int(total),
	})
}

// recentActivity handles GET /api/v1/admin/activity.
func (s *Server) recentActivity(w http.ResponseWriter, r *http.Request) {
	limit := parseLimitParam(r)

	entries, err := s.aggregator.RecentActivity(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jobs := make([]activityEntryResponse, len(entries))
	for i, e := range entries {
		jobs[i] = activityEntryToResponse(e)
	}
	writeJSON(w, http.StatusOK, activityResponse{Jobs: jobs})
}

// analysisStatus handles GET /api/v1/admin/status.
func (s *Server) analysisStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.aggregator.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := statusResponse{
		Coverage: coverageResponse{
			TotalPapers:    status.Coverage.TotalPapers,
			AnalyzedPapers: status.Coverage.AnalyzedPapers,
			Percent:        status.Coverage.Percent,
		},
		QueueDepth:  status.QueueDepth,
		QueuePaused: status.QueuePaused,
	}
	if status.CurrentBatch != nil {
		b := domainBatchToResponse(status.CurrentBatch)
		resp.CurrentBatch = &b
	}
	resp.Budget = budgetResponse{
		DailyCapCents:   status.Budget.Config.DailyCapCents,
		MonthlyCapCents: status.Budget.Config.MonthlyCapCents,
		AutoEnabled:     status.Budget.Config.AutoEnabled,
		Paused:          status.Budget.Config.Paused,
		PauseReason:     status.Budget.Config.PauseReason,
		SpendToday:      status.Budget.SpendToday,
		SpendThisMonth:  status.Budget.SpendThisMonth,
		UpdatedAt:       status.Budget.Config.UpdatedAt,
	}

	writeJSON(w, http.StatusOK, resp)
}

// setBudget handles PUT /api/v1/admin/budget.
func (s *Server) setBudget(w http.ResponseWriter, r *http.Request) {
	var req setBudgetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg, err := s.guard.SetBudget(r.Context(), req.DailyCapCents, req.MonthlyCapCents, req.AutoEnabled)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	spend, err := s.guard.Spend(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetToResponse(cfg, spend))
}

// decodeBody reads, unmarshals, and validates a JSON request body. Writes
// a 400 response and returns false on any failure. An empty body decodes
// to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON request body")
			return false
		}
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens a validator error into a client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("invalid value for %s", fe.Field())
	}
	return "invalid request"
}

// parseLimitParam extracts the limit query parameter; zero means default.
func parseLimitParam(r *http.Request) int {
	return parseQueryInt(r, "limit")
}

func parseQueryInt(r *http.Request, name string) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 0
}

// writeDomainError maps domain errors to HTTP status codes and writes a
// JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrBatchActive):
		var ae *domain.BatchActiveError
		if errors.As(err, &ae) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":    "another batch is already active",
				"batch_id": ae.BatchID.String(),
				"status":   string(ae.Status),
			})
		} else {
			writeError(w, http.StatusConflict, "another batch is already active")
		}
	case errors.Is(err, domain.ErrBudgetExceeded):
		var be *domain.BudgetExceededError
		if errors.As(err, &be) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":                  be.Error(),
				"spent_today_cents":      be.SpentTodayCents,
				"spent_this_month_cents": be.SpentThisMonthCents,
				"daily_cap_cents":        be.DailyCapCents,
				"monthly_cap_cents":      be.MonthlyCapCents,
			})
		} else {
			writeError(w, http.StatusConflict, "budget exceeded")
		}
	case errors.Is(err, domain.ErrAutoDisabled):
		writeError(w, http.StatusConflict, "automatic batches are disabled")
	case errors.Is(err, domain.ErrNotFound):
		var nfe *domain.NotFoundError
		if errors.As(err, &nfe) {
			writeError(w, http.StatusNotFound, nfe.Error())
		} else {
			writeError(w, http.StatusNotFound, "resource not found")
		}
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, "work queue unavailable")
	case errors.Is(err, domain.ErrMisconfigured):
		writeError(w, http.StatusInternalServerError, "service misconfigured")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
