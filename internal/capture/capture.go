// Package capture owns the long-running ffmpeg process that records the
// primary display into the segment ring.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/logging"
)

// ErrEncoderNotFound means no ffmpeg executable could be located.
var ErrEncoderNotFound = errors.New("ffmpeg not found")

// ErrAlreadyRunning is returned by Start while a capture process is live.
var ErrAlreadyRunning = errors.New("capture already running")

// StartError reports a failure to launch the capture process.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return "capture: start: " + e.Err.Error() }
func (e *StartError) Unwrap() error { return e.Err }

// Region is the screen rectangle being captured.
type Region struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	OffsetX int `json:"offset_x"`
	OffsetY int `json:"offset_y"`
}

// Size formats the region as ffmpeg's WxH video size.
func (r Region) Size() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.OffsetX, r.OffsetY)
}

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// DefaultDisplay is the X11 display used when neither the config nor
// $DISPLAY names one.
const DefaultDisplay = ":0.0"

// BuildArgs returns the ffmpeg arguments (without the executable) that
// capture region on goos and write segments to pattern.
func BuildArgs(goos string, region Region, cfg *config.Config, pattern, display string) []string {
	fps := fmt.Sprint(cfg.Capture.Framerate)

	var input []string
	switch goos {
	case "windows":
		input = []string{
			"-f", "gdigrab",
			"-framerate", fps,
			"-offset_x", fmt.Sprint(region.OffsetX),
			"-offset_y", fmt.Sprint(region.OffsetY),
			"-video_size", region.Size(),
			"-draw_mouse", "1",
			"-i", "desktop",
		}
	case "darwin":
		// The avfoundation screen device index varies per machine; "1" is
		// the first screen on most setups.
		input = []string{
			"-f", "avfoundation",
			"-framerate", fps,
			"-capture_cursor", "1",
			"-video_size", region.Size(),
			"-i", "1:none",
		}
	default:
		if display == "" {
			display = DefaultDisplay
		}
		input = []string{
			"-f", "x11grab",
			"-framerate", fps,
			"-video_size", region.Size(),
			"-i", fmt.Sprintf("%s+%d,%d", display, region.OffsetX, region.OffsetY),
		}
	}

	gop := fmt.Sprint(cfg.KeyframeInterval())
	video := []string{
		"-c:v", cfg.Capture.Encoder,
		"-preset", cfg.Capture.Preset,
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-g", gop,
		"-keyint_min", gop,
		"-sc_threshold", "0",
	}
	segmenter := []string{
		"-f", "segment",
		"-segment_time", fmt.Sprint(cfg.Capture.SegmentTime),
		"-reset_timestamps", "1",
		"-segment_format", "mpegts",
		pattern,
	}

	args := make([]string, 0, len(input)+len(video)+len(segmenter))
	args = append(args, input...)
	args = append(args, video...)
	return append(args, segmenter...)
}

// ResolveFFmpeg locates the ffmpeg executable: the configured path when
// set, otherwise "ffmpeg" on PATH.
func ResolveFFmpeg(cfg *config.Config, lookPath func(string) (string, error)) (string, error) {
	name := cfg.Capture.FFmpegPath
	if name == "" {
		name = "ffmpeg"
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoderNotFound, err)
	}
	return path, nil
}

// Session runs one ffmpeg capture process at a time. It may be started
// again after it has stopped, which is how the supervisor restarts it.
type Session struct {
	// LookPath resolves the ffmpeg executable. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	// Command builds the process to run. Defaults to exec.Command.
	Command func(name string, args ...string) *exec.Cmd

	cfg         *config.Config
	pattern     string
	stopTimeout time.Duration
	log         *zap.SugaredLogger
	events      event.Emitter

	mu      sync.Mutex
	state   State
	region  Region
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
	stderr  *tailBuffer
}

// New creates an idle Session that writes segments to pattern.
func New(cfg *config.Config, pattern string, log *zap.SugaredLogger, events chan<- event.Event) *Session {
	return &Session{
		LookPath:    exec.LookPath,
		Command:     exec.Command,
		cfg:         cfg,
		pattern:     pattern,
		stopTimeout: cfg.StopTimeout(),
		log:         logging.OrNop(log),
		events:      events,
	}
}

// Start launches ffmpeg capturing region. Every failure is a *StartError.
func (s *Session) Start(ctx context.Context, region Region) error {
	if err := ctx.Err(); err != nil {
		return &StartError{Err: err}
	}

	s.mu.Lock()
	switch s.state {
	case Starting, Running, Stopping:
		s.mu.Unlock()
		return &StartError{Err: ErrAlreadyRunning}
	}
	prev := s.state
	s.state = Starting
	s.mu.Unlock()

	cmd, tail, err := s.spawn(region)
	if err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		return &StartError{Err: err}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.state = Running
	s.region = region
	s.cmd = cmd
	s.done = done
	s.exitErr = nil
	s.stderr = tail
	s.mu.Unlock()

	pid := cmd.Process.Pid
	s.log.Infow("recording started", "dir", filepath.Dir(s.pattern), "region", region.String(), "pid", pid)
	s.events.Emit(event.Event{
		Kind:    event.CaptureStarted,
		Message: fmt.Sprintf("Recording started into %s", filepath.Dir(s.pattern)),
		PID:     pid,
		Running: true,
	})

	go s.wait(cmd, done, tail)
	return nil
}

// Restart starts the process again on the region of the previous Start.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	region := s.region
	s.mu.Unlock()
	return s.Start(ctx, region)
}

func (s *Session) spawn(region Region) (*exec.Cmd, *tailBuffer, error) {
	exe, err := ResolveFFmpeg(s.cfg, s.LookPath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.pattern), 0755); err != nil {
		return nil, nil, fmt.Errorf("create buffer dir: %w", err)
	}

	args := BuildArgs(runtime.GOOS, region, s.cfg, s.pattern, s.display())
	s.log.Debugw("recording command", "cmd", exe+" "+strings.Join(args, " "))

	cmd := s.Command(exe, args...)
	tail := newTailBuffer(stderrTailSize)
	cmd.Stdout = nil
	cmd.Stderr = tail
	hideWindow(cmd)

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("spawn %s: %w", exe, err)
	}
	return cmd, tail, nil
}

func (s *Session) display() string {
	if s.cfg.Capture.Display != "" {
		return s.cfg.Capture.Display
	}
	if d := os.Getenv("DISPLAY"); d != "" {
		return d
	}
	return DefaultDisplay
}

// wait reaps the process. An exit the session did not ask for is a crash.
func (s *Session) wait(cmd *exec.Cmd, done chan struct{}, tail *tailBuffer) {
	err := cmd.Wait()

	s.mu.Lock()
	requested := s.state == Stopping
	s.state = Stopped
	s.exitErr = err
	s.mu.Unlock()
	// Report before closing done so a Stop waiting on done never returns
	// while the crash event is still being emitted.
	defer close(done)

	if requested {
		return
	}
	detail := tail.String()
	s.log.Warnw("ffmpeg exited unexpectedly", "pid", cmd.Process.Pid, "error", err, "stderr", detail)
	msg := fmt.Sprintf("ffmpeg exited unexpectedly: %v", err)
	if err == nil {
		msg = "ffmpeg exited unexpectedly"
	}
	s.events.Emit(event.Event{
		Kind:    event.CaptureCrashed,
		Message: msg,
		PID:     cmd.Process.Pid,
		Err:     detail,
	})
}

// Stop asks ffmpeg to finish its current segment and exit, waits up to the
// stop timeout, then kills it. Stopping a session that is not running is a
// no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != Running {
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	s.state = Stopping
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	s.log.Infow("stopping ffmpeg recorder", "pid", cmd.Process.Pid)
	if err := interrupt(cmd.Process); err != nil {
		s.log.Debugw("interrupt failed", "error", err)
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.log.Warnw("ffmpeg did not stop in time, killing", "timeout", s.stopTimeout)
		_ = cmd.Process.Kill()
		<-done
	}

	s.events.Emit(event.Event{
		Kind:    event.CaptureStopped,
		Message: "Recording stopped",
		PID:     cmd.Process.Pid,
	})
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the capture process is live.
func (s *Session) IsRunning() bool {
	return s.State() == Running
}

// Poll reports whether the process has exited and, if so, how.
func (s *Session) Poll() (exited bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Running, Starting, Stopping:
		return false, nil
	}
	return true, s.exitErr
}

// Done is closed when the current process exits. It is nil before the
// first Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// PID returns the live process id, or 0.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Stderr returns the last bytes ffmpeg wrote to stderr.
func (s *Session) Stderr() string {
	s.mu.Lock()
	tail := s.stderr
	s.mu.Unlock()
	if tail == nil {
		return ""
	}
	return tail.String()
}
