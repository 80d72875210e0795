package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/listing-harvester/internal/jobs"
	"github.com/maltedev/listing-harvester/internal/models"
	"github.com/maltedev/listing-harvester/internal/schema"
	"github.com/maltedev/listing-harvester/internal/storage"
)

type JobService interface {
	CreateJob(ctx context.Context, req jobs.Request) (*storage.RunEntry, error)
	GetJob(id string) (*storage.RunEntry, error)
	ListJobs() []*storage.RunEntry
	GetJobRecords(id string) ([]*models.Record, error)
	GetStats() *jobs.Stats
}

// OutboxStatus reports relay backlog for the health check.
type OutboxStatus interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type Handlers struct {
	jobs   JobService
	outbox OutboxStatus
	logger *slog.Logger
}

// NewHandlers builds the handlers. outbox may be nil when no database is
// configured.
func NewHandlers(jobs JobService, outbox OutboxStatus, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{jobs: jobs, outbox: outbox, logger: logger.With("component", "api")}
}

type CreateHarvestResponse struct {
	JobID   string            `json:"job_id"`
	Status  storage.RunStatus `json:"status"`
	Message string            `json:"message"`
}

func (h *Handlers) CreateHarvest(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := h.jobs.CreateJob(r.Context(), req)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateHarvestResponse{
		JobID:   entry.ID,
		Status:  entry.Status,
		Message: "harvest queued",
	})
}

func (h *Handlers) GetHarvest(w http.ResponseWriter, r *http.Request) {
	entry, err := h.jobs.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) ListHarvests(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs())
}

func (h *Handlers) GetHarvestRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.jobs.GetJobRecords(chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			h.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to read job records", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read records")
		return
	}
	h.respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.GetStats())
}

type VariantInfo struct {
	Name       string   `json:"name"`
	Activation string   `json:"activation"`
	Fields     []string `json:"fields"`
}

func (h *Handlers) ListVariants(w http.ResponseWriter, r *http.Request) {
	names := schema.Names()
	out := make([]VariantInfo, 0, len(names))
	for _, name := range names {
		v, err := schema.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, VariantInfo{Name: v.Name, Activation: v.Activation.String(), Fields: v.Schema.Keys()})
	}
	h.respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, perr := h.outbox.GetPendingCount(r.Context())
		dead, derr := h.outbox.GetDeadLetterCount(r.Context())
		health["outbox"] = map[string]any{"pending": pending, "dead_letter": dead}

		switch {
		case perr != nil || derr != nil:
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		case dead > deadLetterFailThreshold:
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		case pending > pendingWarnThreshold:
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
