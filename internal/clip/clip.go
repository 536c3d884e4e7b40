// Package clip assembles the newest segments of the ring buffer into a
// single MP4, trying a stream copy first and re-encoding when the copy
// fails.
package clip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/diskspace"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/logging"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/segment"
)

// MinAssemblyFree is the free space the clips volume needs before a save
// is attempted. It sits well below the pruning threshold.
const MinAssemblyFree = 300 << 20

// TitleTimeout bounds the active window lookup.
const TitleTimeout = 2 * time.Second

// Clip describes a saved clip.
type Clip struct {
	ID        string
	Path      string
	Requested time.Duration
	Nominal   time.Duration // len(Segments) * segment time
	Segments  []segment.Segment
	CreatedAt time.Time
	Label     string
	Reencoded bool
}

// TitleSource supplies the text a clip label is sanitized from.
type TitleSource interface {
	ActiveTitle(ctx context.Context) string
}

// Assembler saves clips from one segment store. Saves are serialized.
type Assembler struct {
	store       *segment.Store
	concat      Concatenator
	titles      TitleSource
	probe       diskspace.Probe
	clipsDir    string
	segmentTime time.Duration
	log         *zap.SugaredLogger
	events      event.Emitter

	// Now is the clock used for filenames and clip IDs.
	Now func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// New creates an Assembler. A nil probe uses diskspace.Free; a nil titles
// labels every clip Untitled.
func New(cfg *config.Config, store *segment.Store, concat Concatenator, titles TitleSource, probe diskspace.Probe, log *zap.SugaredLogger, events chan<- event.Event) *Assembler {
	if probe == nil {
		probe = diskspace.Free
	}
	return &Assembler{
		store:       store,
		concat:      concat,
		titles:      titles,
		probe:       probe,
		clipsDir:    cfg.ClipsDir(),
		segmentTime: cfg.SegmentTime(),
		log:         logging.OrNop(log),
		events:      events,
		Now:         time.Now,
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Segments returns how many segments cover d, never fewer than one.
func (a *Assembler) Segments(d time.Duration) int {
	return max(1, int((d+a.segmentTime-1)/a.segmentTime))
}

// Save assembles the trailing requested window of the buffer. When fewer
// segments exist than the window needs, all of them are used. A concurrent
// call waits for the one in progress.
func (a *Assembler) Save(ctx context.Context, requested time.Duration) (*Clip, error) {
	if requested <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDuration, requested)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	clip, err := a.save(ctx, requested)
	if err != nil {
		a.log.Errorw("failed to assemble clip", "requested", requested, "error", err)
		a.events.Emit(event.Event{
			Kind:      event.ClipFailed,
			Message:   fmt.Sprintf("Clip failed: %v", err),
			Requested: requested.Seconds(),
			Err:       err.Error(),
		})
		return nil, err
	}

	msg := "Clip saved: " + clip.Path
	a.log.Infow("clip saved", "path", clip.Path, "segments", len(clip.Segments), "reencoded", clip.Reencoded)
	a.events.Emit(event.Event{
		Kind:      event.ClipSaved,
		Timestamp: clip.CreatedAt,
		Message:   msg,
		ClipID:    clip.ID,
		ClipPath:  clip.Path,
		Requested: clip.Requested.Seconds(),
		Nominal:   clip.Nominal.Seconds(),
		Segments:  len(clip.Segments),
		Reencoded: clip.Reencoded,
		Label:     clip.Label,
	})
	return clip, nil
}

func (a *Assembler) save(ctx context.Context, requested time.Duration) (_ *Clip, err error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("clip: %w", ctx.Err())
	}
	needed := a.Segments(requested)

	if free, err := a.probe(a.clipsDir); err != nil {
		a.log.Debugw("free space probe failed", "path", a.clipsDir, "error", err)
	} else if free < MinAssemblyFree {
		return nil, fmt.Errorf("%w (%.2f GB free)", ErrInsufficientSpace, diskspace.ToGB(free))
	}

	chosen, err := a.store.Newest(needed)
	if err != nil {
		return nil, fmt.Errorf("clip: list segments: %w", err)
	}
	if len(chosen) == 0 {
		return nil, ErrNoSegments
	}

	now := a.Now()
	label := a.label(ctx)

	if err := os.MkdirAll(a.clipsDir, 0755); err != nil {
		return nil, fmt.Errorf("clip: create clips dir: %w", err)
	}
	out, err := reservePath(filepath.Join(a.clipsDir, FileName(now, requested, label)))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		if rmErr := os.Remove(out); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			a.log.Warnw("could not remove unfinished clip", "path", out, "error", rmErr)
		}
	}()

	manifest, err := WriteManifest(a.store.Dir(), chosen)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(manifest); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.log.Warnw("could not remove concat manifest", "path", manifest, "error", err)
		}
	}()

	a.log.Infow("assembling clip", "requested", requested, "segments", len(chosen), "out", filepath.Base(out))

	clip := &Clip{
		ID:        ulid.MustNew(ulid.Timestamp(now), a.entropy).String(),
		Path:      out,
		Requested: requested,
		Nominal:   time.Duration(len(chosen)) * a.segmentTime,
		Segments:  chosen,
		CreatedAt: now,
		Label:     label,
	}

	fastErr := a.concat.Copy(ctx, manifest, out)
	if fastErr == nil {
		return clip, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("clip: %w", ctx.Err())
	}

	a.log.Warnw("fast concat failed; retrying with re-encode", "error", fastErr)
	if err := a.concat.Reencode(ctx, manifest, out); err != nil {
		return nil, &AssemblyError{Fast: fastErr, Fallback: err}
	}
	clip.Reencoded = true
	return clip, nil
}

// label sanitizes the active window title, giving up after TitleTimeout.
func (a *Assembler) label(ctx context.Context) string {
	if a.titles == nil {
		return Untitled
	}
	ctx, cancel := context.WithTimeout(ctx, TitleTimeout)
	defer cancel()
	return Sanitize(a.titles.ActiveTitle(ctx))
}

// FileName formats {YYYYMMDD_HHMMSS}_{N}s_{label}.mp4.
func FileName(at time.Time, requested time.Duration, label string) string {
	secs := int64((requested + time.Second - 1) / time.Second)
	return fmt.Sprintf("%s_%ds_%s.mp4", at.Format("20060102_150405"), secs, label)
}

// reservePath creates an empty file at path, or at path with -2, -3, ...
// before the extension when the name is taken, and returns the name it
// created. Exclusive creation keeps two recorders from sharing a name.
func reservePath(path string) (string, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	candidate := path
	for i := 2; ; i++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return candidate, f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("clip: reserve %s: %w", filepath.Base(candidate), err)
		}
		candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
}
