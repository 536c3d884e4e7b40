// Package event defines the structured events every recorder component emits.
// Events flow through one buffered channel owned by the session and are
// drained to the logger, the clip history, the notifier and the TUI.
package event

import "time"

// Kind identifies the type of a recorder event.
type Kind int

const (
	Info             Kind = iota // General informational message
	CaptureStarted               // Capture process spawned
	CaptureStopped               // Capture process stopped on request
	CaptureCrashed               // Capture process exited on its own
	CaptureRestarted             // Supervisor restarted the capture process
	SegmentsPruned               // Capacity prune removed old segments
	LowSpace                     // Free space below min_free_gb; extra prune ran
	SaveRequested                // A trigger source asked for a clip
	ClipSaved                    // Clip assembled successfully
	ClipFailed                   // Clip assembly failed
	Status                       // Periodic status snapshot
	Shutdown                     // Session shutting down
)

var kindNames = map[Kind]string{
	Info:             "info",
	CaptureStarted:   "capture_started",
	CaptureStopped:   "capture_stopped",
	CaptureCrashed:   "capture_crashed",
	CaptureRestarted: "capture_restarted",
	SegmentsPruned:   "segments_pruned",
	LowSpace:         "low_space",
	SaveRequested:    "save_requested",
	ClipSaved:        "clip_saved",
	ClipFailed:       "clip_failed",
	Status:           "status",
	Shutdown:         "shutdown",
}

// String returns the snake_case name of k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a structured record emitted by a recorder component.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`

	// Clip fields
	ClipID     string  `json:"clip_id,omitempty"`
	ClipPath   string  `json:"clip_path,omitempty"`
	Requested  float64 `json:"requested_seconds,omitempty"`
	Nominal    float64 `json:"nominal_seconds,omitempty"`
	Segments   int     `json:"segments,omitempty"`
	Reencoded  bool    `json:"reencoded,omitempty"`
	Source     string  `json:"source,omitempty"`
	Label      string  `json:"label,omitempty"`
	Err        string  `json:"error,omitempty"`
	ClipLength int     `json:"clip_length,omitempty"`

	// Buffer fields
	Pruned int     `json:"pruned,omitempty"`
	Live   int     `json:"live,omitempty"`
	FreeGB float64 `json:"free_gb,omitempty"`

	// Capture fields
	PID      int  `json:"pid,omitempty"`
	Running  bool `json:"running,omitempty"`
	Restarts int  `json:"restarts,omitempty"`
}

// Emitter sends events without ever blocking the caller. A nil Emitter
// discards everything.
type Emitter chan<- Event

// Emit stamps e and sends it if the channel has room. Events are dropped
// rather than stalling a pruner or assembler behind a slow consumer.
func (em Emitter) Emit(e Event) {
	if em == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case em <- e:
	default:
	}
}
