package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBatchActive indicates that a batch is already running or paused,
	// so a new one may not be started.
	ErrBatchActive = errors.New("batch already active")

	// ErrBudgetExceeded indicates that starting a batch would exceed a
	// configured spending cap.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrAutoDisabled indicates that unattended batch starts are disabled
	// by the budget configuration.
	ErrAutoDisabled = errors.New("automatic batches disabled")

	// ErrUnauthorized indicates that the request lacks a valid credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMisconfigured indicates a server-side configuration defect, such
	// as a missing admin credential. Distinct from ErrUnauthorized: the
	// caller did nothing wrong.
	ErrMisconfigured = errors.New("server misconfigured")

	// ErrQueueUnavailable indicates that the external work queue rejected
	// or failed an operation.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrInternalError indicates an internal server error.
	ErrInternalError = errors.New("internal error")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// BatchActiveError is returned when starting a batch while another batch
// is still running or paused. It carries the id of the batch that holds
// the single-active slot so the caller can report it.
type BatchActiveError struct {
	BatchID uuid.UUID
	Status  BatchStatus
}

// Error implements the error interface.
func (e *BatchActiveError) Error() string {
	return fmt.Sprintf("batch %s is already %s", e.BatchID, e.Status)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *BatchActiveError) Unwrap() error {
	return ErrBatchActive
}

// BudgetExceededError carries the spend figures that caused a start to be
// rejected so the operator can decide whether to raise a cap or wait.
type BudgetExceededError struct {
	SpentTodayCents     int64
	SpentThisMonthCents int64
	DailyCapCents       int64
	MonthlyCapCents     int64
	Reason              string
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("budget exceeded: %s", e.Reason)
	}
	return fmt.Sprintf("budget exceeded: spent today %d¢ (cap %d¢), this month %d¢ (cap %d¢)",
		e.SpentTodayCents, e.DailyCapCents, e.SpentThisMonthCents, e.MonthlyCapCents)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *BudgetExceededError) Unwrap() error {
	return ErrBudgetExceeded
}

// QueueError wraps a failure from the external work queue.
type QueueError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *QueueError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *QueueError) Unwrap() error {
	return ErrQueueUnavailable
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewQueueError creates a new QueueError.
func NewQueueError(op string, cause error) *QueueError {
	return &QueueError{Op: op, Cause: cause}
}
