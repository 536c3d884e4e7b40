package session

import (
	"context"
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/clip"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/logging"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/segment"
)

// SaveOnce assembles a clip from the buffer without starting capture. It
// does not take the buffer lock, so it works beside a running recorder. The
// clip's events are sent to events, which may be nil.
func SaveOnce(ctx context.Context, cfg *config.Config, deps Deps, d time.Duration, events chan<- event.Event) (*clip.Clip, error) {
	log := logging.OrNop(deps.Logger)
	deps = withDefaults(cfg, deps, log)
	store := segment.NewStore(cfg.BufferDir(), log.Named("segment"))
	asm := clip.New(cfg, store, deps.Concat, deps.Titles, deps.Probe, log.Named("clip"), events)
	return asm.Save(ctx, d)
}
