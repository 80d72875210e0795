package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/maltedev/listing-harvester/internal/models"
	"github.com/maltedev/listing-harvester/internal/queue"
	"github.com/maltedev/listing-harvester/internal/schema"
	"github.com/maltedev/listing-harvester/internal/storage"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidRequest = errors.New("invalid job request")
)

// DefaultTarget applies when a request leaves Target unset.
const DefaultTarget = 20

type Manager struct {
	runs   *storage.RunIndex
	queue  queue.Queue
	runner Runner
	writer *storage.Writer
	sinks  []Sink
	logger *slog.Logger
}

func NewManager(runs *storage.RunIndex, q queue.Queue, runner Runner, writer *storage.Writer, logger *slog.Logger, sinks ...Sink) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runs:   runs,
		queue:  q,
		runner: runner,
		writer: writer,
		sinks:  sinks,
		logger: logger.With("component", "job_manager"),
	}
}

type Request struct {
	Variant  string `json:"variant"`
	Query    string `json:"query"`
	Location string `json:"location"`
	Target   int    `json:"target"`
	Priority int    `json:"priority"`
}

func (r *Request) normalize() error {
	r.Query = strings.TrimSpace(r.Query)
	r.Location = strings.TrimSpace(r.Location)
	if r.Query == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if r.Target < 0 {
		return fmt.Errorf("%w: target cannot be negative", ErrInvalidRequest)
	}
	if r.Target == 0 {
		r.Target = DefaultTarget
	}
	if r.Variant == "" {
		r.Variant = schema.Maps().Name
	}
	v, err := schema.Lookup(r.Variant)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	r.Variant = v.Name
	return nil
}

type Stats struct {
	TotalJobs       int     `json:"total_jobs"`
	PendingJobs     int     `json:"pending_jobs"`
	RunningJobs     int     `json:"running_jobs"`
	CompletedJobs   int     `json:"completed_jobs"`
	AbortedJobs     int     `json:"aborted_jobs"`
	InterruptedJobs int     `json:"interrupted_jobs"`
	FailedJobs      int     `json:"failed_jobs"`
	TotalRecords    int     `json:"total_records"`
	QueueDepth      int     `json:"queue_depth"`
	SuccessRate     float64 `json:"success_rate"`
}

// CreateJob registers a pending run and queues it for the worker.
func (m *Manager) CreateJob(ctx context.Context, req Request) (*storage.RunEntry, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	entry := &storage.RunEntry{
		ID:       uuid.New().String(),
		Variant:  req.Variant,
		Query:    req.Query,
		Location: req.Location,
		Target:   req.Target,
		Priority: req.Priority,
	}
	if err := m.runs.Add(entry); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := m.enqueue(entry); err != nil {
		if uerr := m.runs.UpdateStatus(entry.ID, storage.RunFailed, err.Error()); uerr != nil {
			m.logger.Error("failed to mark job failed", "id", entry.ID, "error", uerr)
		}
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", entry.ID, "variant", entry.Variant, "query", entry.Query, "target", entry.Target)
	got, _ := m.runs.Get(entry.ID)
	return got, nil
}

func (m *Manager) enqueue(entry *storage.RunEntry) error {
	return m.queue.Push(&queue.Task{
		ID:        entry.ID,
		Variant:   entry.Variant,
		Query:     entry.Query,
		Location:  entry.Location,
		Target:    entry.Target,
		Priority:  entry.Priority,
		CreatedAt: entry.AddedAt,
	})
}

// Resume requeues runs left pending by a previous process and fails the
// ones it left running, since their page is gone.
func (m *Manager) Resume() (requeued, failed int) {
	entries := m.runs.List()
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		switch entry.Status {
		case storage.RunPending:
			if err := m.enqueue(entry); err != nil {
				m.logger.Error("failed to requeue job", "id", entry.ID, "error", err)
				continue
			}
			requeued++
		case storage.RunRunning:
			if err := m.runs.UpdateStatus(entry.ID, storage.RunFailed, "process stopped while running"); err != nil {
				m.logger.Error("failed to mark job failed", "id", entry.ID, "error", err)
				continue
			}
			failed++
		}
	}
	if requeued > 0 || failed > 0 {
		m.logger.Info("jobs resumed", "requeued", requeued, "failed", failed)
	}
	return requeued, failed
}

func (m *Manager) GetJob(id string) (*storage.RunEntry, error) {
	entry, ok := m.runs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return entry, nil
}

func (m *Manager) ListJobs() []*storage.RunEntry {
	return m.runs.List()
}

// GetJobRecords reads the records a finished job wrote. Jobs without output
// return an empty slice.
func (m *Manager) GetJobRecords(id string) ([]*models.Record, error) {
	entry, err := m.GetJob(id)
	if err != nil {
		return nil, err
	}
	for _, f := range entry.Files {
		if strings.HasSuffix(f, ".json") {
			return storage.ReadJSON(f)
		}
	}
	return []*models.Record{}, nil
}

func (m *Manager) GetStats() *Stats {
	stats := &Stats{QueueDepth: m.queue.Size()}
	for _, entry := range m.runs.List() {
		stats.TotalJobs++
		stats.TotalRecords += entry.Records
		switch entry.Status {
		case storage.RunPending:
			stats.PendingJobs++
		case storage.RunRunning:
			stats.RunningJobs++
		case storage.RunCompleted:
			stats.CompletedJobs++
		case storage.RunAborted:
			stats.AbortedJobs++
		case storage.RunInterrupted:
			stats.InterruptedJobs++
		case storage.RunFailed:
			stats.FailedJobs++
		}
	}
	if finished := stats.TotalJobs - stats.PendingJobs - stats.RunningJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}
	return stats
}
