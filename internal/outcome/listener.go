// Package outcome provides a Kafka listener for job outcome events reported
// by the external analysis workers.
package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/paperstack/analysis-service/internal/domain"
	"github.com/paperstack/analysis-service/internal/observability"
	"github.com/paperstack/analysis-service/internal/repository"
)

// JobOutcomeEvent is the message workers publish when a job reaches a
// terminal state.
type JobOutcomeEvent struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	CostCents    int    `json:"cost_cents"`
	TokensUsed   int    `json:"tokens_used"`
	DurationMs   int64  `json:"duration_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// OutcomeReporter applies one terminal outcome to a job. Implemented by
// the batch dispatcher.
type OutcomeReporter interface {
	ReportOutcome(ctx context.Context, jobID uuid.UUID, outcome domain.JobOutcome) (*repository.OutcomeResult, error)
}

// messageSource is the subset of kafka.Reader the listener uses. Fetch and
// commit are separate so an offset is only committed once its event has
// been handled.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Listener consumes job outcome events from Kafka and applies them to jobs.
// Delivery is at-least-once; duplicates are harmless because the rollup
// layer discards reports for jobs that already reached a terminal state.
type Listener struct {
	reader   messageSource
	reporter OutcomeReporter
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// Config holds configuration for the outcome listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for job outcome events.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// NewListener creates a new outcome event listener.
func NewListener(
	cfg Config,
	reporter OutcomeReporter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})

	return &Listener{
		reader:   reader,
		reporter: reporter,
		metrics:  metrics,
		logger:   logger.With().Str("component", "outcome_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
//
// Offsets are committed only after an event was handled or is known to be
// unusable. A transient failure while applying an outcome leaves the
// offset uncommitted so the broker redelivers; the rollup layer makes the
// redelivery a no-op once the first attempt eventually lands.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting outcome listener")

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("outcome listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to fetch message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received outcome event")

		if err := l.process(ctx, msg); err != nil {
			// Leave the offset uncommitted for redelivery.
			l.logger.Error().Err(err).Msg("failed to handle outcome event, awaiting redelivery")
			continue
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			l.logger.Error().Err(err).Msg("failed to commit offset")
		}
	}
}

// process decodes and applies one event. It returns an error only for
// transient failures worth a redelivery; malformed or invalid events are
// counted, logged and dropped because retrying cannot repair them.
func (l *Listener) process(ctx context.Context, msg kafka.Message) error {
	var event JobOutcomeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		l.metrics.RecordOutcomeEventInvalid()
		l.logger.Error().Err(err).
			Str("raw_value", string(msg.Value)).
			Msg("failed to unmarshal outcome event")
		return nil
	}

	if err := l.handleOutcome(ctx, event); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			l.metrics.RecordOutcomeEventInvalid()
			l.logger.Error().Err(err).
				Str("job_id", event.JobID).
				Str("status", event.Status).
				Msg("invalid outcome event discarded")
			return nil
		}
		return err
	}
	return nil
}

// handleOutcome validates the event and applies it through the reporter.
// Unknown jobs and duplicate deliveries are logged but never returned as
// errors: the broker must not redeliver them.
func (l *Listener) handleOutcome(ctx context.Context, event JobOutcomeEvent) error {
	jobID, err := uuid.Parse(event.JobID)
	if err != nil {
		return domain.NewValidationError("job_id", fmt.Sprintf("invalid job id %q", event.JobID))
	}

	outcome, err := event.toOutcome()
	if err != nil {
		return err
	}

	result, err := l.reporter.ReportOutcome(ctx, jobID, outcome)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The job was created by a different deployment or the batch
			// rows were removed; there is nothing to apply it to.
			l.logger.Warn().
				Str("job_id", event.JobID).
				Msg("outcome event for unknown job, discarding")
			return nil
		}
		return fmt.Errorf("report outcome: %w", err)
	}

	l.metrics.RecordOutcomeEvent(event.Status)
	if !result.Applied {
		l.logger.Debug().
			Str("job_id", event.JobID).
			Msg("duplicate outcome event discarded")
	}
	return nil
}

func (e JobOutcomeEvent) toOutcome() (domain.JobOutcome, error) {
	switch domain.JobStatus(e.Status) {
	case domain.JobStatusCompleted:
		return domain.CompletedOutcome(e.CostCents, e.TokensUsed, e.DurationMs), nil
	case domain.JobStatusFailed:
		return domain.FailedOutcome(e.ErrorMessage), nil
	default:
		return domain.JobOutcome{}, domain.NewValidationError("status", fmt.Sprintf("unknown outcome status %q", e.Status))
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing outcome listener")
	return l.reader.Close()
}
