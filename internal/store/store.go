// Package store persists recorder events to a JSONL session log and reads
// saved-clip records back for `replay clips`. One store is opened per
// `replay record` run; the file name carries the start time and PID.
package store

import (
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

// Writer persists recorder events to durable storage.
type Writer interface {
	Append(e event.Event) error
	Close() error
}

// Reader retrieves this session's clips.
type Reader interface {
	Clips() ([]ClipRecord, error)
	ClipEvent(id string) (event.Event, error)
	SessionSummary() (SessionSummary, error)
}

// Store combines Writer and Reader into a single session-scoped handle.
type Store interface {
	Writer
	Reader
}

// ClipRecord summarises one saved clip.
type ClipRecord struct {
	ID        string
	Path      string
	Requested float64 // seconds
	Nominal   float64 // seconds
	Segments  int
	Reencoded bool
	Label     string
	SavedAt   time.Time
	Session   string
}

// SessionSummary summarises one recording session.
type SessionSummary struct {
	SessionID string
	StartedAt time.Time
	Clips     int
	Failures  int
	Reencoded int
	LastClip  string
}
