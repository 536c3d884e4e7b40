package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/logging"
)

// ErrGaveUp is returned by Supervise once the capture process has crashed
// more times in a row than max_restarts allows.
var ErrGaveUp = errors.New("supervisor: capture keeps crashing")

// Process is the supervised capture process.
type Process interface {
	// Poll reports whether the process has exited and, if so, how.
	Poll() (exited bool, err error)
	// Restart starts the process again with its previous settings.
	Restart(ctx context.Context) error
	PID() int
}

// Supervisor restarts a crashed capture process. With supervision disabled
// it still tracks state, and the first crash ends Supervise.
type Supervisor struct {
	proc        Process
	stateDir    string
	maxRestarts int
	backoff     time.Duration
	interval    time.Duration
	log         *zap.SugaredLogger
	events      event.Emitter

	mu    sync.Mutex
	state State
}

// New creates a Supervisor for proc in the recording session sessionID.
func New(cfg *config.Config, proc Process, sessionID string, log *zap.SugaredLogger, events chan<- event.Event) *Supervisor {
	sc := cfg.Supervisor
	s := &Supervisor{
		proc:     proc,
		stateDir: cfg.StateDir(),
		backoff:  time.Duration(sc.RestartBackoffSeconds) * time.Second,
		interval: time.Duration(sc.HealthIntervalSeconds) * time.Second,
		log:      logging.OrNop(log),
		events:   events,
		state: State{
			SessionID:   sessionID,
			RecorderPID: os.Getpid(),
			BufferDir:   cfg.BufferDir(),
		},
	}
	if sc.Enabled {
		s.maxRestarts = sc.MaxRestarts
	}
	if s.interval <= 0 {
		s.interval = 2 * time.Second
	}
	return s
}

// Supervise polls the process every health interval until ctx is
// cancelled, which returns nil. A restart that survives one interval
// resets the crash count.
func (s *Supervisor) Supervise(ctx context.Context) error {
	s.update(func(st *State) {
		st.StartedAt = time.Now()
		st.CapturePID = s.proc.PID()
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var crashes int
	for {
		select {
		case <-ctx.Done():
			s.update(func(st *State) {
				st.CapturePID = 0
				st.FinishedAt = time.Now()
			})
			return nil
		case <-ticker.C:
		}

		exited, exitErr := s.proc.Poll()
		if !exited {
			if crashes > 0 {
				s.log.Debugw("capture stable after restart", "pid", s.proc.PID())
				crashes = 0
				s.update(func(st *State) { st.ConsecutiveCrashes = 0 })
			}
			continue
		}

		crashes++
		reason := "exited"
		if exitErr != nil {
			reason = exitErr.Error()
		}
		s.update(func(st *State) {
			st.CapturePID = 0
			st.ConsecutiveCrashes = crashes
			st.LastCrash = time.Now()
			st.LastError = reason
		})

		if crashes > s.maxRestarts {
			s.update(func(st *State) { st.FinishedAt = time.Now() })
			msg := fmt.Sprintf("Capture crashed %d times in a row; giving up", crashes)
			s.log.Errorw("capture keeps crashing, giving up", "crashes", crashes, "max_restarts", s.maxRestarts, "last_error", reason)
			s.events.Emit(event.Event{Kind: event.Info, Message: msg, Err: reason, Restarts: crashes - 1})
			return fmt.Errorf("%w: %d crashes, last: %s", ErrGaveUp, crashes, reason)
		}

		s.log.Warnw("capture crashed, restarting", "attempt", crashes, "max_restarts", s.maxRestarts, "backoff", s.backoff, "error", reason)
		select {
		case <-ctx.Done():
			continue
		case <-time.After(s.backoff):
		}

		if err := s.proc.Restart(ctx); err != nil {
			// The next poll sees the process still down and counts it.
			s.log.Warnw("capture restart failed", "error", err)
			continue
		}

		pid := s.proc.PID()
		var restarts int
		s.update(func(st *State) {
			st.Restarts++
			st.CapturePID = pid
			restarts = st.Restarts
		})
		s.events.Emit(event.Event{
			Kind:     event.CaptureRestarted,
			Message:  fmt.Sprintf("Capture restarted (attempt %d/%d)", crashes, s.maxRestarts),
			PID:      pid,
			Running:  true,
			Restarts: restarts,
		})
	}
}

// State returns a copy of the tracked state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	st := s.state
	s.mu.Unlock()

	if err := SaveState(s.stateDir, st); err != nil {
		s.log.Warnw("failed to save session state", "error", err)
	}
}
