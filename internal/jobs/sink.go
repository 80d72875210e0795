package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-harvester/internal/database"
	"github.com/maltedev/listing-harvester/internal/events"
	"github.com/maltedev/listing-harvester/internal/harvest"
	"github.com/maltedev/listing-harvester/internal/models"
	"github.com/maltedev/listing-harvester/internal/storage"
)

// Sink receives every finished run after its files are written.
type Sink interface {
	Store(ctx context.Context, run *storage.RunEntry, res *harvest.Result) error
}

type HarvestStore interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
	InsertHarvestWithTx(ctx context.Context, tx pgx.Tx, run *database.HarvestRun, records []*models.Record) error
}

type EventPublisher interface {
	PublishHarvestCompletedWithTx(ctx context.Context, tx pgx.Tx, payload *events.HarvestCompletedPayload) error
}

// DatabaseSink stores the run, its records and a HARVEST_COMPLETED outbox
// event in one transaction.
type DatabaseSink struct {
	store     HarvestStore
	publisher EventPublisher
}

func NewDatabaseSink(store HarvestStore, publisher EventPublisher) *DatabaseSink {
	return &DatabaseSink{store: store, publisher: publisher}
}

func (s *DatabaseSink) Store(ctx context.Context, run *storage.RunEntry, res *harvest.Result) error {
	row := &database.HarvestRun{
		ID:         run.ID,
		Variant:    run.Variant,
		Query:      run.Query,
		Location:   run.Location,
		Target:     run.Target,
		Status:     string(run.Status),
		Discovered: res.Discovered,
		Attempted:  res.Attempted,
		Skipped:    res.Skipped,
		Exhausted:  res.Exhausted,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Error != "" {
		row.Error = &res.Error
	}

	summary := res.Summary()
	payload := &events.HarvestCompletedPayload{
		RunID:       run.ID,
		SessionID:   res.SessionID,
		Variant:     run.Variant,
		Query:       run.Query,
		Location:    run.Location,
		Status:      string(run.Status),
		Target:      run.Target,
		Discovered:  res.Discovered,
		Records:     summary.Total,
		Skipped:     res.Skipped,
		WithPhone:   summary.WithPhone,
		WithWebsite: summary.WithWebsite,
		Files:       run.Files,
		Error:       res.Error,
	}

	err := s.store.Transaction(ctx, func(tx pgx.Tx) error {
		if err := s.store.InsertHarvestWithTx(ctx, tx, row, res.Records); err != nil {
			return err
		}
		return s.publisher.PublishHarvestCompletedWithTx(ctx, tx, payload)
	})
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", run.ID, err)
	}
	return nil
}
