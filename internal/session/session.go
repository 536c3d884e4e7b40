// Package session wires the recorder together: it owns the buffer lock,
// the capture process, the pruning and status loops, the supervisor and
// the save triggers, and shuts them down in order.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/capacity"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/capture"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/clip"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/diskspace"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/display"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/logging"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/segment"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/status"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/supervisor"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/trigger"
)

// State is the controller lifecycle.
type State int

const (
	Idle State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// StatusInterval is how often a status snapshot is emitted.
const StatusInterval = 2 * time.Second

// eventBuffer sizes the event channel; emitters drop rather than block.
const eventBuffer = 256

// Capture is the capture process as the controller drives it.
type Capture interface {
	Start(ctx context.Context, region capture.Region) error
	Restart(ctx context.Context) error
	Stop() error
	Poll() (exited bool, err error)
	PID() int
	IsRunning() bool
}

// Deps are the controller's replaceable collaborators. Zero fields get the
// real implementations.
type Deps struct {
	Logger  *zap.SugaredLogger
	Locator display.Locator
	Titles  display.TitleSource
	Probe   diskspace.Probe
	Concat  clip.Concatenator
	// Capture, when set, replaces the ffmpeg capture session. It is built
	// from the buffer store's pattern otherwise.
	Capture func(pattern string, events chan<- event.Event) Capture
}

// Controller runs one recording session.
type Controller struct {
	cfg    *config.Config
	id     string
	log    *zap.SugaredLogger
	events chan event.Event

	locator    display.Locator
	store      *segment.Store
	capture    Capture
	capacity   *capacity.Manager
	assembler  *clip.Assembler
	reporter   *status.Reporter
	supervisor *supervisor.Supervisor
	dispatcher *trigger.Dispatcher

	mu    sync.Mutex
	state State
}

// New builds every component from cfg.
func New(cfg *config.Config, deps Deps) *Controller {
	log := logging.OrNop(deps.Logger)
	events := make(chan event.Event, eventBuffer)
	id := uuid.NewString()

	deps = withDefaults(cfg, deps, log)

	store := segment.NewStore(cfg.BufferDir(), log.Named("segment"))
	var proc Capture
	if deps.Capture != nil {
		proc = deps.Capture(store.Pattern(), events)
	} else {
		proc = capture.New(cfg, store.Pattern(), log.Named("capture"), events)
	}

	assembler := clip.New(cfg, store, deps.Concat, deps.Titles, deps.Probe, log.Named("clip"), events)
	return &Controller{
		cfg:        cfg,
		id:         id,
		log:        log,
		events:     events,
		locator:    deps.Locator,
		store:      store,
		capture:    proc,
		capacity:   capacity.New(cfg, store, deps.Probe, log.Named("capacity"), events),
		assembler:  assembler,
		reporter:   status.NewReporter(cfg, store, deps.Probe, proc.IsRunning, log.Named("status"), events),
		supervisor: supervisor.New(cfg, proc, id, log.Named("supervisor"), events),
		dispatcher: trigger.NewDispatcher(assembler, cfg.ClipLength(), log.Named("trigger"), events),
	}
}

// withDefaults fills the zero fields of deps with the real implementations.
func withDefaults(cfg *config.Config, deps Deps, log *zap.SugaredLogger) Deps {
	if deps.Locator == nil {
		deps.Locator = defaultLocator(log)
	}
	if deps.Titles == nil {
		deps.Titles = defaultTitles()
	}
	if deps.Probe == nil {
		deps.Probe = diskspace.Free
	}
	if deps.Concat == nil {
		exe := cfg.Capture.FFmpegPath
		if exe == "" {
			exe = "ffmpeg"
		}
		deps.Concat = &clip.FFmpegConcat{Path: exe, Encoder: cfg.Capture.Encoder, Preset: cfg.Capture.Preset}
	}
	return deps
}

func defaultLocator(log *zap.SugaredLogger) display.Locator {
	if runtime.GOOS == "linux" || runtime.GOOS == "freebsd" {
		return fallbackLocator{primary: display.XRandr{}, log: log}
	}
	return display.Static{}
}

func defaultTitles() display.TitleSource {
	if runtime.GOOS == "linux" || runtime.GOOS == "freebsd" {
		return display.XProp{}
	}
	return display.Fixed("")
}

// fallbackLocator assumes display.DefaultRegion when detection fails.
type fallbackLocator struct {
	primary display.Locator
	log     *zap.SugaredLogger
}

func (f fallbackLocator) Primary(ctx context.Context) (capture.Region, error) {
	r, err := f.primary.Primary(ctx)
	if err != nil {
		f.log.Warnw("monitor detection failed; assuming default region", "region", display.DefaultRegion.String(), "error", err)
		return display.DefaultRegion, nil
	}
	return r, nil
}

// ID returns the session UUID.
func (c *Controller) ID() string { return c.id }

// Events returns the channel every component reports into. It is closed
// when Run returns.
func (c *Controller) Events() <-chan event.Event { return c.events }

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Save assembles a clip of the trailing d of the buffer and waits for it.
// It must not be called after Run returns.
func (c *Controller) Save(ctx context.Context, d time.Duration) (*clip.Clip, error) {
	return c.assembler.Save(ctx, d)
}

// Fire requests a clip without waiting for it.
func (c *Controller) Fire(req trigger.Request) {
	c.dispatcher.Fire(req)
}

// Run records until ctx is cancelled or the supervisor gives up. A capture
// that cannot start returns its *capture.StartError. Run may be called once.
func (c *Controller) Run(ctx context.Context, sources ...trigger.Source) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return fmt.Errorf("session: already %s", c.state)
	}
	c.state = Running
	c.mu.Unlock()
	abandoned := false
	defer func() {
		if !abandoned {
			close(c.events)
			return
		}
		// A save that ignored cancellation may still report; close once it
		// returns.
		go func() {
			c.dispatcher.Wait()
			close(c.events)
		}()
	}()
	defer c.setState(Stopped)

	release, err := acquireLock(c.cfg.BufferDir(), c.id)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			c.log.Warnw("failed to release buffer lock", "error", err)
		}
	}()

	region, err := c.locator.Primary(ctx)
	if err != nil {
		return fmt.Errorf("session: locate display: %w", err)
	}
	c.log.Infow("primary monitor", "size", region.Size(), "offset_x", region.OffsetX, "offset_y", region.OffsetY)

	if err := c.capture.Start(ctx, region); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	superErr := make(chan error, 1)
	goLoop := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	goLoop(func() { c.capacity.Run(loopCtx) })
	goLoop(func() { c.reporter.Run(loopCtx, StatusInterval) })
	goLoop(func() {
		if err := c.supervisor.Supervise(loopCtx); err != nil {
			superErr <- err
		}
	})
	for _, src := range sources {
		goLoop(func() {
			if err := src.Run(loopCtx, c.dispatcher.Fire); err != nil {
				c.log.Warnw("trigger source stopped", "source", src.Name(), "error", err)
			}
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-superErr:
	}

	abandoned = !c.shutdown(cancel, &wg)
	return runErr
}

// shutdown stops the loops and sources, gives in-flight saves the save
// grace, then stops capture. Capture is stopped even when saves had to be
// abandoned. It reports whether every save returned.
func (c *Controller) shutdown(cancel context.CancelFunc, wg *sync.WaitGroup) bool {
	c.setState(ShuttingDown)
	c.log.Infow("shutting down")
	event.Emitter(c.events).Emit(event.Event{Kind: event.Shutdown, Message: "Shutting down"})

	cancel()
	wg.Wait()
	saved := c.dispatcher.Shutdown(c.cfg.SaveGrace())
	if err := c.capture.Stop(); err != nil {
		c.log.Warnw("failed to stop capture", "error", err)
	}
	c.log.Infow("goodbye")
	return saved
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// IsStartError reports whether err came from launching the capture process.
func IsStartError(err error) bool {
	var se *capture.StartError
	return errors.As(err, &se)
}
