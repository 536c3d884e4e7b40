// Package trigger turns save requests from hotkey-like sources into
// asynchronous clip saves.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/clip"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/logging"
)

// Request asks for the trailing Duration of the buffer. A zero Duration
// means the configured clip length.
type Request struct {
	Duration time.Duration
	Source   string
}

// Source produces save requests until ctx is cancelled. Run must not block
// on the save itself; fire returns immediately.
type Source interface {
	Name() string
	Run(ctx context.Context, fire func(Request)) error
}

// Saver is the clip assembler as the dispatcher sees it.
type Saver interface {
	Save(ctx context.Context, d time.Duration) (*clip.Clip, error)
}

// Dispatcher runs each request's save on its own goroutine. Saves share one
// context that only Shutdown cancels, so they outlive the trigger sources.
type Dispatcher struct {
	saver    Saver
	fallback time.Duration
	log      *zap.SugaredLogger
	events   event.Emitter
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher that saves defaultDuration for
// requests without one.
func NewDispatcher(saver Saver, defaultDuration time.Duration, log *zap.SugaredLogger, events chan<- event.Event) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		saver:    saver,
		fallback: defaultDuration,
		log:      logging.OrNop(log),
		events:   events,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Fire starts a save and returns immediately. Failures are reported by the
// saver's events, not to the caller. Requests after Wait are dropped.
func (d *Dispatcher) Fire(req Request) {
	if req.Duration <= 0 {
		req.Duration = d.fallback
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Debugw("save request dropped during shutdown", "source", req.Source)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.log.Infow("save requested", "source", req.Source, "duration", req.Duration)
	d.events.Emit(event.Event{
		Kind:      event.SaveRequested,
		Message:   fmt.Sprintf("Saving last %s (%s)", req.Duration, req.Source),
		Requested: req.Duration.Seconds(),
		Source:    req.Source,
	})

	go func() {
		defer d.wg.Done()
		if _, err := d.saver.Save(d.ctx, req.Duration); err != nil {
			d.log.Debugw("save failed", "source", req.Source, "error", err)
		}
	}()
}

// Wait stops accepting requests and blocks until in-flight saves finish.
func (d *Dispatcher) Wait() {
	d.close()
	d.wg.Wait()
	d.cancel()
}

// Shutdown stops accepting requests and gives in-flight saves grace to
// finish. Saves still running then are cancelled and get another grace to
// return. It reports whether every save returned.
func (d *Dispatcher) Shutdown(grace time.Duration) bool {
	d.close()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		d.cancel()
		return true
	case <-timer.C:
	}

	d.log.Warnw("saves still running at shutdown; cancelling", "grace", grace)
	d.cancel()
	timer.Reset(grace)
	select {
	case <-done:
		return true
	case <-timer.C:
		d.log.Errorw("saves ignored cancellation; abandoning them", "grace", grace)
		return false
	}
}

func (d *Dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Interval fires a save every Every. A zero Every never fires.
type Interval struct {
	Every    time.Duration
	Duration time.Duration
}

func (i Interval) Name() string { return "interval" }

func (i Interval) Run(ctx context.Context, fire func(Request)) error {
	if i.Every <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(i.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fire(Request{Duration: i.Duration, Source: i.Name()})
		}
	}
}

// Channel forwards requests sent on it. The TUI's save key uses one.
type Channel struct {
	label string
	c     chan Request
}

// NewChannel creates a Channel source named label.
func NewChannel(label string) *Channel {
	return &Channel{label: label, c: make(chan Request, 4)}
}

func (c *Channel) Name() string { return c.label }

// Send queues req without blocking; it reports false when the queue is full.
func (c *Channel) Send(req Request) bool {
	select {
	case c.c <- req:
		return true
	default:
		return false
	}
}

func (c *Channel) Run(ctx context.Context, fire func(Request)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.c:
			if req.Source == "" {
				req.Source = c.label
			}
			fire(req)
		}
	}
}
