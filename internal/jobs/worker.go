package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/listing-harvester/internal/harvest"
	"github.com/maltedev/listing-harvester/internal/queue"
	"github.com/maltedev/listing-harvester/internal/schema"
	"github.com/maltedev/listing-harvester/internal/storage"
)

// StartWorker runs queued jobs one at a time until ctx is done or the queue
// is closed. A single worker serializes use of the shared browser.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, queue.ErrQueueClosed) {
				m.logger.Error("failed to take next job", "error", err)
				continue
			}
			m.logger.Info("job worker stopping")
			return
		}
		m.processJob(ctx, task)
	}
}

func (m *Manager) processJob(ctx context.Context, task *queue.Task) {
	logger := m.logger.With("job_id", task.ID, "variant", task.Variant)
	logger.Info("processing job", "query", task.Query, "location", task.Location, "target", task.Target)

	if err := m.runs.UpdateStatus(task.ID, storage.RunRunning, ""); err != nil {
		logger.Error("failed to update job status", "error", err)
		return
	}

	entry, res, err := m.runJob(ctx, task)
	if err != nil {
		logger.Error("job failed", "error", err)
		if uerr := m.runs.UpdateStatus(task.ID, storage.RunFailed, err.Error()); uerr != nil {
			logger.Error("failed to update job status", "error", uerr)
		}
		return
	}

	// Sinks must not be cut short by the shutdown that interrupted the run.
	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range m.sinks {
		if err := sink.Store(sinkCtx, entry, res); err != nil {
			logger.Error("failed to store job result", "error", err)
		}
	}

	logger.Info("job finished", "status", entry.Status, "records", entry.Records, "skipped", entry.Skipped)
}

func (m *Manager) runJob(ctx context.Context, task *queue.Task) (*storage.RunEntry, *harvest.Result, error) {
	variant, err := schema.Lookup(task.Variant)
	if err != nil {
		return nil, nil, err
	}

	observe := func(st harvest.State) {
		if err := m.runs.Update(task.ID, func(r *storage.RunEntry) { r.Phase = st.String() }); err != nil {
			m.logger.Warn("failed to record job phase", "job_id", task.ID, "error", err)
		}
	}

	res, err := m.runner.Run(ctx, variant, harvest.Query{
		Query:       task.Query,
		Location:    task.Location,
		TargetCount: task.Target,
	}, observe)
	if err != nil {
		return nil, nil, fmt.Errorf("harvest did not start: %w", err)
	}

	paths, err := m.writer.Write(storage.Output{
		Variant: variant.Name,
		Query:   joinQuery(task.Query, task.Location),
		Header:  variant.Schema.Header(),
		Records: res.Records,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write results: %w", err)
	}

	if err := m.runs.Update(task.ID, func(r *storage.RunEntry) {
		r.SessionID = res.SessionID
		r.Status = runStatus(res.Status)
		r.Phase = res.Status.String()
		r.Discovered = res.Discovered
		r.Records = len(res.Records)
		r.Skipped = res.Skipped
		r.Files = paths.List()
		r.Error = res.Error
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to update job: %w", err)
	}

	entry, _ := m.runs.Get(task.ID)
	return entry, res, nil
}

func runStatus(st harvest.State) storage.RunStatus {
	switch st {
	case harvest.Completed:
		return storage.RunCompleted
	case harvest.Interrupted:
		return storage.RunInterrupted
	default:
		return storage.RunAborted
	}
}

func joinQuery(query, location string) string {
	if location == "" {
		return query
	}
	return query + " " + location
}
