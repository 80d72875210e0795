package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-harvester/internal/models"
)

var ErrRunNotFound = errors.New("harvest run not found")

// HarvestRun is the stored summary of one finished harvest.
type HarvestRun struct {
	ID         string    `json:"id"`
	Variant    string    `json:"variant"`
	Query      string    `json:"query"`
	Location   string    `json:"location,omitempty"`
	Target     int       `json:"target"`
	Status     string    `json:"status"`
	Discovered int       `json:"discovered"`
	Attempted  int       `json:"attempted"`
	Skipped    int       `json:"skipped"`
	Records    int       `json:"records"`
	Exhausted  bool      `json:"exhausted"`
	Error      *string   `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// InsertHarvestWithTx stores run and its records through tx. Records keep
// their field order in field_order since JSONB does not.
func (db *DB) InsertHarvestWithTx(ctx context.Context, tx pgx.Tx, run *HarvestRun, records []*models.Record) error {
	run.Records = len(records)
	_, err := tx.Exec(ctx, `
		INSERT INTO harvest_runs (
			id, variant, query, location, target, status, discovered,
			attempted, skipped, records, exhausted, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			discovered = EXCLUDED.discovered,
			attempted = EXCLUDED.attempted,
			skipped = EXCLUDED.skipped,
			records = EXCLUDED.records,
			exhausted = EXCLUDED.exhausted,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`,
		run.ID, run.Variant, run.Query, run.Location, run.Target, run.Status, run.Discovered,
		run.Attempted, run.Skipped, run.Records, run.Exhausted, run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert harvest run: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		fields, order, err := encodeFields(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", rec.Index, err)
		}
		batch.Queue(`
			INSERT INTO harvest_records (run_id, idx, fields, field_order, scraped_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (run_id, idx) DO UPDATE SET
				fields = EXCLUDED.fields,
				field_order = EXCLUDED.field_order,
				scraped_at = EXCLUDED.scraped_at`,
			run.ID, rec.Index, fields, order, rec.ScrapedAt)
	}

	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert harvest record: %w", err)
		}
	}
	return results.Close()
}

func (db *DB) GetHarvestRun(ctx context.Context, id string) (*HarvestRun, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, variant, query, location, target, status, discovered,
		       attempted, skipped, records, exhausted, error, started_at, finished_at
		FROM harvest_runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get harvest run: %w", err)
	}
	return run, nil
}

// ListHarvestRuns returns the newest runs first.
func (db *DB) ListHarvestRuns(ctx context.Context, limit int) ([]*HarvestRun, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, variant, query, location, target, status, discovered,
		       attempted, skipped, records, exhausted, error, started_at, finished_at
		FROM harvest_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list harvest runs: %w", err)
	}
	defer rows.Close()

	var runs []*HarvestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harvest run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetHarvestRecords returns a run's records in index order.
func (db *DB) GetHarvestRecords(ctx context.Context, runID string) ([]*models.Record, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT idx, fields, field_order, scraped_at
		FROM harvest_records
		WHERE run_id = $1
		ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get harvest records: %w", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		var (
			idx       int
			fields    []byte
			order     []string
			scrapedAt time.Time
		)
		if err := rows.Scan(&idx, &fields, &order, &scrapedAt); err != nil {
			return nil, fmt.Errorf("failed to scan harvest record: %w", err)
		}
		rec, err := decodeFields(idx, scrapedAt, fields, order)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRun(row pgx.Row) (*HarvestRun, error) {
	run := &HarvestRun{}
	err := row.Scan(
		&run.ID, &run.Variant, &run.Query, &run.Location, &run.Target, &run.Status, &run.Discovered,
		&run.Attempted, &run.Skipped, &run.Records, &run.Exhausted, &run.Error, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func encodeFields(rec *models.Record) ([]byte, []string, error) {
	m := make(map[string]string, len(rec.Fields))
	order := make([]string, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		m[f.Key] = f.Value
		order = append(order, f.Key)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return data, order, nil
}

func decodeFields(idx int, scrapedAt time.Time, fields []byte, order []string) (*models.Record, error) {
	var m map[string]string
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, fmt.Errorf("record %d: failed to decode fields: %w", idx, err)
	}

	rec := models.NewRecord(idx, scrapedAt, len(order))
	for _, key := range order {
		if v, ok := m[key]; ok {
			rec.Set(key, v)
		}
	}
	return rec, nil
}
