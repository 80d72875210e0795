package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-harvester/internal/database"
)

type EventType string

const (
	// EventTypeHarvestCompleted is published once per finished run,
	// whatever its final status.
	EventTypeHarvestCompleted EventType = "HARVEST_COMPLETED"

	AggregateHarvestRun = "harvest_run"
)

type HarvestCompletedPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"run_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Variant     string    `json:"variant"`
	Query       string    `json:"query"`
	Location    string    `json:"location,omitempty"`
	Status      string    `json:"status"`
	Target      int       `json:"target"`
	Discovered  int       `json:"discovered"`
	Records     int       `json:"records"`
	Skipped     int       `json:"skipped"`
	WithPhone   int       `json:"with_phone"`
	WithWebsite int       `json:"with_website"`
	Files       []string  `json:"files,omitempty"`
	Error       string    `json:"error,omitempty"`
	Source      string    `json:"source"`
}

type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes events to the transactional outbox; the relay moves
// them to Redis.
type Publisher struct {
	tx     TxRunner
	outbox OutboxWriter
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewOutboxRepository(db), logger)
}

func newPublisher(tx TxRunner, outbox OutboxWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{tx: tx, outbox: outbox, logger: logger.With("component", "event_publisher")}
}

// PublishHarvestCompleted writes the event in its own transaction.
func (p *Publisher) PublishHarvestCompleted(ctx context.Context, payload *HarvestCompletedPayload) error {
	err := p.tx.Transaction(ctx, func(tx pgx.Tx) error {
		return p.PublishHarvestCompletedWithTx(ctx, tx, payload)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// PublishHarvestCompletedWithTx writes the event through tx so it commits
// together with the run it describes.
func (p *Publisher) PublishHarvestCompletedWithTx(ctx context.Context, tx pgx.Tx, payload *HarvestCompletedPayload) error {
	event, err := buildEvent(payload)
	if err != nil {
		return err
	}
	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"run_id", payload.RunID,
		"status", payload.Status,
		"outbox_id", event.ID)
	return nil
}

func buildEvent(payload *HarvestCompletedPayload) (*database.OutboxEvent, error) {
	if payload.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeHarvestCompleted)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Source == "" {
		payload.Source = database.RelaySource
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: AggregateHarvestRun,
		AggregateID:   payload.RunID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  database.StreamHarvestResults,
	}, nil
}
