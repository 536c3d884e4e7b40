//go:build !windows

package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

// init turns the test binary into a fake ffmpeg when _FAKE_FFMPEG=1 is set.
// It runs before flag parsing, so ffmpeg-style arguments are harmless.
func init() {
	if os.Getenv("_FAKE_FFMPEG") != "1" {
		return
	}
	if f := os.Getenv("_FAKE_FFMPEG_ARGS_FILE"); f != "" {
		_ = os.WriteFile(f, []byte(strings.Join(os.Args[1:], "\n")), 0644)
	}
	if s := os.Getenv("_FAKE_FFMPEG_STDERR"); s != "" {
		_, _ = fmt.Fprint(os.Stderr, s)
	}
	if s := os.Getenv("_FAKE_FFMPEG_EXIT"); s != "" {
		code := 0
		_, _ = fmt.Sscan(s, &code)
		os.Exit(code)
	}
	if os.Getenv("_FAKE_FFMPEG_IGNORE_INT") == "1" {
		signal.Ignore(os.Interrupt)
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	select {
	case <-sig:
		os.Exit(0)
	case <-time.After(time.Minute):
		os.Exit(3)
	}
}

func fakeSession(t *testing.T, env ...string) (*Session, chan event.Event) {
	t.Helper()
	cfg := testConfig()
	cfg.Capture.StopTimeoutSeconds = 1
	events := make(chan event.Event, 16)
	s := New(cfg, filepath.Join(t.TempDir(), "buffer", "buf-%05d.ts"), nil, events)
	s.LookPath = func(name string) (string, error) { return name, nil }
	s.Command = func(_ string, args ...string) *exec.Cmd {
		cmd := exec.Command(os.Args[0], args...)
		cmd.Env = append(os.Environ(), append([]string{"_FAKE_FFMPEG=1"}, env...)...)
		return cmd
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s, events
}

func TestStartStop(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	s, events := fakeSession(t, "_FAKE_FFMPEG_ARGS_FILE="+argsFile)
	region := Region{Width: 1280, Height: 720}

	if err := s.Start(context.Background(), region); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatalf("state = %v, want running", s.State())
	}
	if s.PID() == 0 {
		t.Error("PID() = 0 while running")
	}
	if exited, _ := s.Poll(); exited {
		t.Error("Poll reports exited while running")
	}
	if _, err := os.Stat(filepath.Dir(s.pattern)); err != nil {
		t.Errorf("buffer dir not created: %v", err)
	}

	err := s.Start(context.Background(), region)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: expected ErrAlreadyRunning, got %v", err)
	}

	waitFor(t, func() bool { _, err := os.Stat(argsFile); return err == nil })
	data, _ := os.ReadFile(argsFile)
	got := strings.Split(string(data), "\n")
	if !slices.Contains(got, "1280x720") || got[len(got)-1] != s.pattern {
		t.Errorf("fake ffmpeg got args %v", got)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != Stopped {
		t.Errorf("state = %v after Stop, want stopped", s.State())
	}
	if s.PID() != 0 {
		t.Error("PID() should be 0 once stopped")
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Stop")
	}

	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	kinds := drain(events)
	want := []event.Kind{event.CaptureStarted, event.CaptureStopped}
	if !slices.Equal(kinds, want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}

func TestStopKillsAfterTimeout(t *testing.T) {
	s, _ := fakeSession(t, "_FAKE_FFMPEG_IGNORE_INT=1")
	if err := s.Start(context.Background(), Region{Width: 1, Height: 1}); err != nil {
		t.Fatal(err)
	}
	// Give the child time to install its signal disposition.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < time.Second || elapsed > 4*time.Second {
		t.Errorf("Stop took %v, want about the 1s stop timeout", elapsed)
	}
	exited, err := s.Poll()
	if !exited {
		t.Fatal("process still running after Stop")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected exit error, got %v", err)
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); !ok || ws.Signal() != syscall.SIGKILL {
		t.Errorf("expected SIGKILL, got %v", exitErr)
	}
}

func TestCrashDetected(t *testing.T) {
	s, events := fakeSession(t, "_FAKE_FFMPEG_EXIT=1", "_FAKE_FFMPEG_STDERR=x11grab: cannot open display")
	if err := s.Start(context.Background(), Region{Width: 1, Height: 1}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("crash not observed")
	}
	exited, err := s.Poll()
	if !exited || err == nil {
		t.Errorf("Poll() = %v, %v; want exited with error", exited, err)
	}
	if s.State() != Stopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
	if got := s.Stderr(); got != "x11grab: cannot open display" {
		t.Errorf("stderr tail = %q", got)
	}

	var crash event.Event
	waitFor(t, func() bool {
		for {
			select {
			case e := <-events:
				if e.Kind == event.CaptureCrashed {
					crash = e
					return true
				}
			default:
				return false
			}
		}
	})
	if !strings.Contains(crash.Err, "cannot open display") {
		t.Errorf("crash event error = %q", crash.Err)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop after crash: %v", err)
	}
}

func TestRestartAfterCrash(t *testing.T) {
	s, _ := fakeSession(t)
	region := Region{Width: 800, Height: 600, OffsetX: 10}
	if err := s.Start(context.Background(), region); err != nil {
		t.Fatal(err)
	}
	first := s.PID()
	if err := s.cmd.Process.Kill(); err != nil {
		t.Fatal(err)
	}
	<-s.Done()

	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !s.IsRunning() || s.PID() == first {
		t.Errorf("restart did not spawn a new process (pid %d, first %d)", s.PID(), first)
	}
	if s.region != region {
		t.Errorf("restart used region %v, want %v", s.region, region)
	}
}
