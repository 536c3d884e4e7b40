package capture

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Capture.Framerate = 30
	cfg.Capture.SegmentTime = 10
	cfg.Capture.Encoder = "libx264"
	cfg.Capture.Preset = "veryfast"
	return &cfg
}

func TestBuildArgs(t *testing.T) {
	cfg := testConfig()
	region := Region{Width: 2560, Height: 1440, OffsetX: 1920, OffsetY: 0}
	pattern := filepath.Join("buf", "buf-%05d.ts")

	tail := []string{
		"-c:v", "libx264", "-preset", "veryfast", "-tune", "zerolatency",
		"-pix_fmt", "yuv420p", "-g", "60", "-keyint_min", "60", "-sc_threshold", "0",
		"-f", "segment", "-segment_time", "10", "-reset_timestamps", "1",
		"-segment_format", "mpegts", pattern,
	}

	tests := []struct {
		name    string
		goos    string
		display string
		input   []string
	}{
		{
			name: "windows gdigrab",
			goos: "windows",
			input: []string{
				"-f", "gdigrab", "-framerate", "30", "-offset_x", "1920", "-offset_y", "0",
				"-video_size", "2560x1440", "-draw_mouse", "1", "-i", "desktop",
			},
		},
		{
			name: "darwin avfoundation",
			goos: "darwin",
			input: []string{
				"-f", "avfoundation", "-framerate", "30", "-capture_cursor", "1",
				"-video_size", "2560x1440", "-i", "1:none",
			},
		},
		{
			name:    "linux x11grab",
			goos:    "linux",
			display: ":1",
			input: []string{
				"-f", "x11grab", "-framerate", "30", "-video_size", "2560x1440", "-i", ":1+1920,0",
			},
		},
		{
			name:  "linux default display",
			goos:  "linux",
			input: []string{"-f", "x11grab", "-framerate", "30", "-video_size", "2560x1440", "-i", ":0.0+1920,0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildArgs(tt.goos, region, cfg, pattern, tt.display)
			want := append(slices.Clone(tt.input), tail...)
			if !slices.Equal(got, want) {
				t.Errorf("BuildArgs:\n got %v\nwant %v", got, want)
			}
		})
	}
}

func TestBuildArgsKeyframeInterval(t *testing.T) {
	tests := []struct {
		framerate int
		explicit  int
		want      string
	}{
		{framerate: 60, want: "120"},
		{framerate: 10, want: "30"},
		{framerate: 60, explicit: 48, want: "48"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("fps%d_gop%d", tt.framerate, tt.explicit), func(t *testing.T) {
			cfg := testConfig()
			cfg.Capture.Framerate = tt.framerate
			cfg.Capture.KeyframeInterval = tt.explicit
			args := BuildArgs("linux", Region{Width: 1, Height: 1}, cfg, "p", "")
			if got := argAfter(args, "-g"); got != tt.want {
				t.Errorf("-g = %q, want %q", got, tt.want)
			}
			if got := argAfter(args, "-keyint_min"); got != tt.want {
				t.Errorf("-keyint_min = %q, want %q", got, tt.want)
			}
		})
	}
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestRegionFormatting(t *testing.T) {
	r := Region{Width: 1920, Height: 1080, OffsetX: -1920, OffsetY: 0}
	if got := r.Size(); got != "1920x1080" {
		t.Errorf("Size() = %q", got)
	}
	if got := r.String(); got != "1920x1080+-1920+0" {
		t.Errorf("String() = %q", got)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Idle: "idle", Starting: "starting", Running: "running",
		Stopping: "stopping", Stopped: "stopped", State(42): "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestResolveFFmpeg(t *testing.T) {
	t.Run("configured path", func(t *testing.T) {
		cfg := testConfig()
		cfg.Capture.FFmpegPath = "/opt/ffmpeg/bin/ffmpeg"
		var asked string
		got, err := ResolveFFmpeg(cfg, func(name string) (string, error) {
			asked = name
			return name, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if asked != "/opt/ffmpeg/bin/ffmpeg" || got != asked {
			t.Errorf("resolved %q via %q", got, asked)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ResolveFFmpeg(testConfig(), func(string) (string, error) {
			return "", exec.ErrNotFound
		})
		if !errors.Is(err, ErrEncoderNotFound) {
			t.Errorf("expected ErrEncoderNotFound, got %v", err)
		}
		if !errors.Is(err, exec.ErrNotFound) {
			t.Errorf("expected the lookup error to be wrapped, got %v", err)
		}
	})
}

func TestStartEncoderNotFound(t *testing.T) {
	cfg := testConfig()
	s := New(cfg, filepath.Join(t.TempDir(), "buf-%05d.ts"), nil, nil)
	s.LookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	err := s.Start(context.Background(), Region{Width: 640, Height: 480})
	var se *StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrEncoderNotFound) {
		t.Errorf("expected ErrEncoderNotFound, got %v", err)
	}
	if s.State() != Idle {
		t.Errorf("state = %v after failed start, want idle", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop on idle session: %v", err)
	}
}

func TestStartCancelledContext(t *testing.T) {
	s := New(testConfig(), filepath.Join(t.TempDir(), "buf-%05d.ts"), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Start(ctx, Region{Width: 1, Height: 1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(8)
	fmt.Fprint(tb, "0123456789")
	fmt.Fprint(tb, "ab")
	if got := tb.String(); got != "456789ab" {
		t.Errorf("tail = %q, want %q", got, "456789ab")
	}
	if !strings.HasSuffix(tb.String(), "ab") {
		t.Error("newest bytes must be kept")
	}
}

func drain(ch chan event.Event) []event.Kind {
	var kinds []event.Kind
	for {
		select {
		case e := <-ch:
			kinds = append(kinds, e.Kind)
		default:
			return kinds
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 5s")
}
