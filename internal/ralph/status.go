package ralph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StatusFileName is the worker status file inside the data directory.
const StatusFileName = "worker-status.json"

// Worker states.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateStopped = "stopped"
)

// Status is the worker state polled by `coddy status`.
type Status struct {
	State string `json:"state"`

	// RunID identifies the worker process that wrote the file.
	RunID string `json:"run_id"`
	PID   int    `json:"pid"`

	// Current is the issue being worked on (nil when idle).
	Current *CurrentIssue `json:"current,omitempty"`

	Iteration     int `json:"iteration"`
	MaxIterations int `json:"max_iterations"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Tallies Tallies `json:"tallies"`

	// Last is the most recent finished loop.
	Last *Result `json:"last,omitempty"`
}

// Busy reports whether the worker is in the middle of a loop.
func (s *Status) Busy() bool {
	return s != nil && s.State == StateRunning && s.Current != nil
}

// CurrentIssue is minimal information about the issue in progress.
type CurrentIssue struct {
	Repo   string `json:"repo"`
	Number int    `json:"issue_number"`
	Title  string `json:"title"`
	Branch string `json:"branch,omitempty"`
	// PullRequest is set while a review comment on it is addressed.
	PullRequest int `json:"pr_number,omitempty"`
}

// Tallies are running counts of loop outcomes.
type Tallies struct {
	Succeeded      int `json:"succeeded"`
	Clarifications int `json:"clarifications"`
	Exhausted      int `json:"exhausted"`
	Failed         int `json:"failed"`
	Closed         int `json:"closed"`
}

// Add counts one outcome.
func (t *Tallies) Add(o Outcome) {
	switch o {
	case OutcomeSuccess:
		t.Succeeded++
	case OutcomeClarification:
		t.Clarifications++
	case OutcomeExhausted:
		t.Exhausted++
	case OutcomeFailure:
		t.Failed++
	case OutcomeClosed:
		t.Closed++
	}
}

// Total is the number of finished loops.
func (t Tallies) Total() int {
	return t.Succeeded + t.Clarifications + t.Exhausted + t.Failed + t.Closed
}

// StatusWriter manages writing status updates to a file.
type StatusWriter struct {
	path string
}

// NewStatusWriter creates a StatusWriter for the status file in dataDir.
func NewStatusWriter(dataDir string) *StatusWriter {
	return &StatusWriter{path: filepath.Join(dataDir, StatusFileName)}
}

// Path returns the status file location.
func (w *StatusWriter) Path() string { return w.path }

// Write replaces the status file atomically.
func (w *StatusWriter) Write(status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Clear removes the status file.
func (w *StatusWriter) Clear() error {
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove status file: %w", err)
	}
	return nil
}

// ReadStatus loads the status file from dataDir. A missing file returns
// os.ErrNotExist (wrapped).
func ReadStatus(dataDir string) (*Status, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, StatusFileName))
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse worker status: %w", err)
	}
	return &st, nil
}
