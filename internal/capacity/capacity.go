// Package capacity bounds the ring buffer. A background loop prunes the
// oldest segments beyond a count bound derived from the clip length, and
// prunes harder when the output volume runs low on free space.
package capacity

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

// Capacity returns how many segments the buffer keeps:
// ceil(clipLength / segmentTime) * safetyFactor.
func Capacity(clipLength, segmentTime time.Duration, safetyFactor int) int {
	if segmentTime <= 0 {
		return 0
	}
	needed := int((clipLength + segmentTime - 1) / segmentTime)
	return max(1, needed) * safetyFactor
}

// Result summarises one pruning pass.
type Result struct {
	Live          int     // segments seen at the start of the pass
	CapacityPrune int     // removed by the count bound
	SpacePrune    int     // removed by low-disk pressure
	FreeGB        float64 // free space measured this pass; 0 if unknown
	LowSpace      bool
}

// Manager runs the capacity policy against one segment store.
type Manager struct {
	store     *segment.Store
	capacity  int
	minFree   uint64
	spacePath string
	interval  time.Duration
	probe     diskspace.Probe
	log       *zap.SugaredLogger
	events    event.Emitter
}

// New creates a Manager from cfg. Free space is measured on the clips
// volume. A nil probe uses diskspace.Free.
func New(cfg *config.Config, store *segment.Store, probe diskspace.Probe, log *zap.SugaredLogger, events chan<- event.Event) *Manager {
	if probe == nil {
		probe = diskspace.Free
	}
	return &Manager{
		store:     store,
		capacity:  Capacity(cfg.ClipLength(), cfg.SegmentTime(), cfg.Buffer.SafetyFactor),
		minFree:   cfg.MinFreeBytes(),
		spacePath: cfg.ClipsDir(),
		interval:  cfg.PruneInterval(),
		probe:     probe,
		log:       logging.OrNop(log),
		events:    events,
	}
}

// Capacity returns the configured segment bound.
func (m *Manager) Capacity() int {
	return m.capacity
}

// Run prunes once immediately and then every interval until ctx is
// cancelled. Filesystem errors never end the loop.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one pass: the capacity prune, then the low-space prune.
func (m *Manager) Tick(ctx context.Context) Result {
	var res Result
	if ctx.Err() != nil {
		return res
	}

	segs, err := m.store.List()
	if err != nil {
		m.log.Warnw("capacity scan failed", "dir", m.store.Dir(), "error", err)
		return res
	}
	res.Live = len(segs)

	if excess := len(segs) - m.capacity; excess > 0 {
		res.CapacityPrune = m.store.Delete(segs[:excess])
		m.log.Debugw("pruned segments over capacity", "removed", res.CapacityPrune, "capacity", m.capacity)
		m.events.Emit(event.Event{
			Kind:    event.SegmentsPruned,
			Message: fmt.Sprintf("Pruned %d segments over capacity %d", res.CapacityPrune, m.capacity),
			Pruned:  res.CapacityPrune,
			Live:    len(segs) - res.CapacityPrune,
		})
	}

	free, err := m.probe(m.spacePath)
	if err != nil {
		m.log.Debugw("free space probe failed", "path", m.spacePath, "error", err)
		return res
	}
	res.FreeGB = diskspace.ToGB(free)
	if free >= m.minFree || res.Live == 0 {
		return res
	}
	res.LowSpace = true

	remaining, err := m.store.List()
	if err != nil {
		m.log.Warnw("capacity rescan failed", "dir", m.store.Dir(), "error", err)
		return res
	}
	count := min(max(1, res.Live/10), len(remaining))
	res.SpacePrune = m.store.Delete(remaining[:count])

	m.log.Warnw("low disk space, pruned old segments", "free_gb", fmt.Sprintf("%.2f", res.FreeGB), "pruned", res.SpacePrune)
	m.events.Emit(event.Event{
		Kind:    event.LowSpace,
		Message: fmt.Sprintf("Low disk space (%.2f GB). Pruned %d old segments.", res.FreeGB, res.SpacePrune),
		Pruned:  res.SpacePrune,
		Live:    len(remaining) - res.SpacePrune,
		FreeGB:  res.FreeGB,
	})
	return res
}
