// Package runs owns the in-memory run registry: one record per scan,
// with an append-only log and a status that moves INITIALIZING →
// SCANNING → COMPLETE or ERROR. Writes for a run come from the single
// goroutine executing its scan; reads may come from any goroutine and
// always see a consistent snapshot.
package runs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/strixsec/strix/pkg/types"
)

type run struct {
	id        string
	target    string
	status    types.RunStatus
	logs      []types.LogEntry
	result    *types.ScanResult
	report    string
	errMsg    string
	createdAt time.Time
	updatedAt time.Time
}

// Snapshot is a point-in-time copy of a run. Logs are copied, so later
// appends never mutate a snapshot; successive snapshots of a live run
// return log lists where each is a prefix-extension of the previous.
type Snapshot struct {
	ID         string            `json:"scan_id"`
	Target     string            `json:"target"`
	Status     types.RunStatus   `json:"status"`
	Logs       []types.LogEntry  `json:"logs"`
	Result     *types.ScanResult `json:"result,omitempty"`
	ReportPath string            `json:"report_path,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type Store struct {
	mu   sync.RWMutex
	runs map[string]*run
}

func NewStore() *Store {
	return &Store{runs: make(map[string]*run)}
}

// Create registers a new run and returns its identifier.
func (s *Store) Create(target string) string {
	id := uuid.New().String()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id] = &run{
		id:        id,
		target:    target,
		status:    types.RunStatusInitializing,
		createdAt: now,
		updatedAt: now,
	}
	return id
}

// AppendLog records one progress entry against a run. Unknown run
// identifiers are dropped silently; logging must never fail a scan.
func (s *Store) AppendLog(id string, entry types.LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return
	}
	r.logs = append(r.logs, entry)
	r.updatedAt = time.Now()
}

// SetStatus moves a run to a new lifecycle status.
func (s *Store) SetStatus(id string, status types.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return
	}
	r.status = status
	r.updatedAt = time.Now()
}

// Complete marks a run finished with its final result.
func (s *Store) Complete(id string, result *types.ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return
	}
	r.status = types.RunStatusComplete
	r.result = result
	if result != nil {
		r.report = result.ReportPath
	}
	r.updatedAt = time.Now()
}

// Fail marks a run errored with a human-readable reason.
func (s *Store) Fail(id string, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return
	}
	r.status = types.RunStatusError
	r.errMsg = reason
	r.updatedAt = time.Now()
}

// Get returns a snapshot of one run.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// List returns snapshots of every run, unordered.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.snapshot())
	}
	return out
}

func (r *run) snapshot() Snapshot {
	logs := make([]types.LogEntry, len(r.logs))
	copy(logs, r.logs)
	return Snapshot{
		ID:         r.id,
		Target:     r.target,
		Status:     r.status,
		Logs:       logs,
		Result:     r.result,
		ReportPath: r.report,
		Error:      r.errMsg,
		CreatedAt:  r.createdAt,
		UpdatedAt:  r.updatedAt,
	}
}
