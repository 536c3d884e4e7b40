// Package status periodically reports the recorder's buffer length,
// segment count and free disk space.
package status

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/diskspace"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/logging"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/segment"
)

// Snapshot is one status reading.
type Snapshot struct {
	ClipLength time.Duration
	Segments   int
	FreeGB     float64
	Running    bool
	At         time.Time
}

// Format renders s as the one-line status shown while recording.
func Format(s Snapshot) string {
	state := "Recording"
	if !s.Running {
		state = "Stopped"
	}
	return fmt.Sprintf("%s — buffer %ds | segments ~%d | free %.2f GB",
		state, int(s.ClipLength.Seconds()), s.Segments, s.FreeGB)
}

// FromEvent recovers the snapshot carried by an event.Status.
func FromEvent(e event.Event) Snapshot {
	return Snapshot{
		ClipLength: time.Duration(e.ClipLength) * time.Second,
		Segments:   e.Live,
		FreeGB:     e.FreeGB,
		Running:    e.Running,
		At:         e.Timestamp,
	}
}

// Reporter samples the buffer and emits event.Status.
type Reporter struct {
	store      *segment.Store
	clipLength time.Duration
	clipsDir   string
	probe      diskspace.Probe
	running    func() bool
	log        *zap.SugaredLogger
	events     event.Emitter
}

// NewReporter creates a Reporter. running reports whether capture is live;
// nil means always.
func NewReporter(cfg *config.Config, store *segment.Store, probe diskspace.Probe, running func() bool, log *zap.SugaredLogger, events chan<- event.Event) *Reporter {
	if probe == nil {
		probe = diskspace.Free
	}
	if running == nil {
		running = func() bool { return true }
	}
	return &Reporter{
		store:      store,
		clipLength: cfg.ClipLength(),
		clipsDir:   cfg.ClipsDir(),
		probe:      probe,
		running:    running,
		log:        logging.OrNop(log),
		events:     events,
	}
}

// Snapshot takes a reading now. Free space is 0 when it cannot be measured.
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		ClipLength: r.clipLength,
		Segments:   r.store.Count(),
		Running:    r.running(),
		At:         time.Now(),
	}
	if free, err := r.probe(r.clipsDir); err == nil {
		s.FreeGB = diskspace.ToGB(free)
	} else {
		r.log.Debugw("free space probe failed", "path", r.clipsDir, "error", err)
	}
	return s
}

// Run emits a snapshot every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.emit(r.Snapshot())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reporter) emit(s Snapshot) {
	r.events.Emit(event.Event{
		Kind:       event.Status,
		Timestamp:  s.At,
		Message:    Format(s),
		ClipLength: int(s.ClipLength.Seconds()),
		Live:       s.Segments,
		FreeGB:     s.FreeGB,
		Running:    s.Running,
	})
}
