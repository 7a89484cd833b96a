package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBatchStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   BatchStatus
		terminal bool
	}{
		{BatchStatusRunning, false},
		{BatchStatusPaused, false},
		{BatchStatusCompleted, true},
		{BatchStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestBatchStatus_IsActive(t *testing.T) {
	assert.True(t, BatchStatusRunning.IsActive())
	assert.True(t, BatchStatusPaused.IsActive(), "a paused batch still blocks new batches")
	assert.False(t, BatchStatusCompleted.IsActive())
	assert.False(t, BatchStatusCancelled.IsActive())
}

func TestClampBatchSize(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		expected  int
	}{
		{"zero uses default", 0, DefaultBatchSize},
		{"negative clamps to minimum", -5, MinBatchSize},
		{"within range unchanged", 250, 250},
		{"above ceiling clamps", 50000, MaxBatchSize},
		{"minimum unchanged", 1, 1},
		{"ceiling unchanged", 10000, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClampBatchSize(tt.requested))
		})
	}
}

func TestBatch_AvgCostPerCompletedCents(t *testing.T) {
	b := &Batch{TotalCostCents: 0, Completed: 0}
	assert.Equal(t, int64(0), b.AvgCostPerCompletedCents(), "zero completed yields zero, not a division error")

	b = &Batch{TotalCostCents: 30, Completed: 2}
	assert.Equal(t, int64(15), b.AvgCostPerCompletedCents())
}

func TestBatch_IsDone(t *testing.T) {
	b := &Batch{Size: 3, Completed: 2, Failed: 0}
	assert.False(t, b.IsDone())
	assert.Equal(t, 1, b.Remaining())

	b.Failed = 1
	assert.True(t, b.IsDone())
	assert.Equal(t, 0, b.Remaining())
}

func TestBatch_Duration(t *testing.T) {
	b := &Batch{}
	assert.Equal(t, time.Duration(0), b.Duration())

	start := time.Now().Add(-time.Minute)
	end := start.Add(30 * time.Second)
	b = &Batch{StartedAt: &start, FinishedAt: &end}
	assert.Equal(t, 30*time.Second, b.Duration())
}

func TestJobOutcome_Validate(t *testing.T) {
	tests := []struct {
		name    string
		outcome JobOutcome
		wantErr bool
	}{
		{"valid completed", CompletedOutcome(10, 500, 1200), false},
		{"valid failed", FailedOutcome("model timeout"), false},
		{"empty outcome", JobOutcome{}, true},
		{"both variants", JobOutcome{Completed: &JobCompletion{}, Failed: &JobFailure{}}, true},
		{"negative cost", CompletedOutcome(-1, 0, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.outcome.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobOutcome_Status(t *testing.T) {
	assert.Equal(t, JobStatusCompleted, CompletedOutcome(1, 1, 1).Status())
	assert.Equal(t, JobStatusFailed, FailedOutcome("x").Status())
}

func TestValidateCaps(t *testing.T) {
	assert.NoError(t, ValidateCaps(0, 0))
	assert.NoError(t, ValidateCaps(100, 5000))
	assert.Error(t, ValidateCaps(-1, 100))
	assert.Error(t, ValidateCaps(100, -1))
}

func TestBatchActiveError(t *testing.T) {
	id := uuid.New()
	err := &BatchActiveError{BatchID: id, Status: BatchStatusRunning}
	assert.ErrorIs(t, err, ErrBatchActive)
	assert.Contains(t, err.Error(), id.String())
}
