// Package supervisor watches the capture process, restarts it after a
// crash with backoff, and persists the recorder's state for `replay status`.
package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the recorder's operational state, persisted to
// <state_dir>/session-state.json.
type State struct {
	SessionID          string    `json:"session_id"`
	RecorderPID        int       `json:"recorder_pid"`
	CapturePID         int       `json:"capture_pid"`
	BufferDir          string    `json:"buffer_dir"`
	StartedAt          time.Time `json:"started_at"`
	Restarts           int       `json:"restarts"`
	ConsecutiveCrashes int       `json:"consecutive_crashes"`
	LastCrash          time.Time `json:"last_crash,omitzero"`
	LastError          string    `json:"last_error,omitempty"`
	FinishedAt         time.Time `json:"finished_at,omitzero"`
}

// Active reports whether the state describes a recorder that has not shut
// down. A recorder killed without cleanup also looks active.
func (s State) Active() bool {
	return s.RecorderPID > 0 && s.FinishedAt.IsZero()
}

// StateFileName is the state file within the state directory.
const StateFileName = "session-state.json"

// LoadState reads the state from dir. A missing file yields a zero State.
func LoadState(dir string) (State, error) {
	data, err := os.ReadFile(filepath.Join(dir, StateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("supervisor: read state: %w", err)
	}

	var s State
	if jsonErr := json.Unmarshal(data, &s); jsonErr != nil {
		return State{}, fmt.Errorf("supervisor: parse state: %w", jsonErr)
	}
	return s, nil
}

// SaveState writes s to dir, creating dir if needed. The write goes to a
// temp file that is renamed into place, so readers never see a partial file.
func SaveState(dir string, s State) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("supervisor: create state dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("supervisor: marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-state-*.tmp")
	if err != nil {
		return fmt.Errorf("supervisor: create temp state: %w", err)
	}
	if _, writeErr := tmp.Write(data); writeErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("supervisor: write state: %w", writeErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("supervisor: close state: %w", closeErr)
	}
	if renameErr := os.Rename(tmp.Name(), filepath.Join(dir, StateFileName)); renameErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("supervisor: finalize state: %w", renameErr)
	}
	return nil
}
