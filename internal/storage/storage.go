package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"
)

type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunAborted     RunStatus = "aborted"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// Done reports whether the run will not change any more.
func (s RunStatus) Done() bool {
	return s != RunPending && s != RunRunning
}

// RunEntry is the on-disk bookkeeping for one harvest run.
type RunEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Variant   string    `json:"variant"`
	Query     string    `json:"query"`
	Location  string    `json:"location,omitempty"`
	Target    int       `json:"target"`
	Priority  int       `json:"priority,omitempty"`
	Status    RunStatus `json:"status"`
	// Phase is the session state while the run is in progress.
	Phase      string    `json:"phase,omitempty"`
	Discovered int       `json:"discovered"`
	Records    int       `json:"records"`
	Skipped    int       `json:"skipped"`
	Files      []string  `json:"files,omitempty"`
	AddedAt    time.Time `json:"added_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Error      string    `json:"error,omitempty"`
}

func (r *RunEntry) clone() *RunEntry {
	cp := *r
	cp.Files = slices.Clone(r.Files)
	return &cp
}

// RunIndex keeps RunEntries in a JSON file, rewritten atomically on every
// change.
type RunIndex struct {
	mu       sync.RWMutex
	runs     map[string]*RunEntry
	filename string
}

func NewRunIndex(filename string) (*RunIndex, error) {
	ri := &RunIndex{
		runs:     make(map[string]*RunEntry),
		filename: filename,
	}

	if err := ri.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return ri, nil
}

func (ri *RunIndex) Add(run *RunEntry) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}

	now := time.Now()
	run.AddedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = RunPending
	}

	ri.runs[run.ID] = run
	return ri.save()
}

func (ri *RunIndex) Get(id string) (*RunEntry, bool) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	run, exists := ri.runs[id]
	if !exists {
		return nil, false
	}
	return run.clone(), true
}

// List returns runs newest first.
func (ri *RunIndex) List() []*RunEntry {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	out := make([]*RunEntry, 0, len(ri.runs))
	for _, run := range ri.runs {
		out = append(out, run.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.After(out[j].AddedAt) })
	return out
}

// Update applies fn to the stored entry and persists it.
func (ri *RunIndex) Update(id string, fn func(*RunEntry)) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	run, exists := ri.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}

	fn(run)
	run.UpdatedAt = time.Now()

	return ri.save()
}

func (ri *RunIndex) UpdateStatus(id string, status RunStatus, errorMsg string) error {
	return ri.Update(id, func(run *RunEntry) {
		run.Status = status
		run.Error = errorMsg
	})
}

func (ri *RunIndex) GetStats() map[string]int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	stats := make(map[string]int)
	for _, run := range ri.runs {
		stats[string(run.Status)]++
	}
	stats["total"] = len(ri.runs)
	return stats
}

func (ri *RunIndex) save() error {
	data, err := json.MarshalIndent(ri.runs, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(ri.filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Write to temp file first for atomicity
	tmpFile := ri.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, ri.filename)
}

func (ri *RunIndex) Load() error {
	data, err := os.ReadFile(ri.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &ri.runs)
}
