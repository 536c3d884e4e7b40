//go:build !windows

package clip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// init turns the test binary into a fake ffmpeg when _FAKE_FFMPEG=1 is set.
// It writes its arguments next to the output and exits with _FAKE_FFMPEG_EXIT.
func init() {
	if os.Getenv("_FAKE_FFMPEG") != "1" {
		return
	}
	args := os.Args[1:]
	if len(args) > 0 {
		out := args[len(args)-1]
		_ = os.WriteFile(out, []byte(strings.Join(args, " ")), 0644)
	}
	if s := os.Getenv("_FAKE_FFMPEG_STDERR"); s != "" {
		_, _ = fmt.Fprint(os.Stderr, s)
	}
	code := 0
	if s := os.Getenv("_FAKE_FFMPEG_EXIT"); s != "" {
		_, _ = fmt.Sscan(s, &code)
	}
	os.Exit(code)
}

func fakeFFmpeg(env ...string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, _ string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], args...)
		cmd.Env = append(os.Environ(), append([]string{"_FAKE_FFMPEG=1"}, env...)...)
		return cmd
	}
}

func TestConcatArgs(t *testing.T) {
	wantCopy := []string{
		"-y", "-f", "concat", "-safe", "0", "-i", "list.txt",
		"-c", "copy", "-movflags", "+faststart", "out.mp4",
	}
	if got := CopyArgs("list.txt", "out.mp4"); !slices.Equal(got, wantCopy) {
		t.Errorf("CopyArgs = %v", got)
	}

	wantReencode := []string{
		"-y", "-f", "concat", "-safe", "0", "-i", "list.txt",
		"-c:v", "h264_nvenc", "-preset", "p4", "-pix_fmt", "yuv420p", "out.mp4",
	}
	if got := ReencodeArgs("list.txt", "out.mp4", "h264_nvenc", "p4"); !slices.Equal(got, wantReencode) {
		t.Errorf("ReencodeArgs = %v", got)
	}
}

func TestFFmpegConcatCopy(t *testing.T) {
	out := filepath.Join(t.TempDir(), "clip.mp4")
	c := &FFmpegConcat{Path: "ffmpeg", Encoder: "libx264", Preset: "veryfast", Command: fakeFFmpeg()}

	if err := c.Copy(context.Background(), "list.txt", out); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if want := strings.Join(CopyArgs("list.txt", out), " "); string(data) != want {
		t.Errorf("ffmpeg ran with %q, want %q", data, want)
	}
}

func TestFFmpegConcatReencode(t *testing.T) {
	out := filepath.Join(t.TempDir(), "clip.mp4")
	c := &FFmpegConcat{Encoder: "libx264", Preset: "veryfast", Command: fakeFFmpeg()}

	if err := c.Reencode(context.Background(), "list.txt", out); err != nil {
		t.Fatalf("Reencode: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(strings.Fields(string(data)), "libx264") {
		t.Errorf("encoder missing from %q", data)
	}
}

func TestFFmpegConcatBoundsWait(t *testing.T) {
	var built *exec.Cmd
	fake := fakeFFmpeg()
	c := &FFmpegConcat{Command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
		built = fake(ctx, name, args...)
		return built
	}}

	if err := c.Copy(context.Background(), "list.txt", filepath.Join(t.TempDir(), "clip.mp4")); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if built.WaitDelay != killWait {
		t.Errorf("WaitDelay = %s, want %s", built.WaitDelay, killWait)
	}
}

func TestFFmpegConcatFailureCarriesStderr(t *testing.T) {
	out := filepath.Join(t.TempDir(), "clip.mp4")
	c := &FFmpegConcat{Command: fakeFFmpeg(
		"_FAKE_FFMPEG_EXIT=1",
		"_FAKE_FFMPEG_STDERR=Input #0, concat\nbuf-00003.ts: Invalid data found when processing input\n",
	)}

	err := c.Copy(context.Background(), "list.txt", out)
	if err == nil {
		t.Fatal("expected an error")
	}
	msg := err.Error()
	for _, want := range []string{"ffmpeg concat copy", "exit status 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should contain %q", msg, want)
		}
	}
	if !strings.HasSuffix(msg, "buf-00003.ts: Invalid data found when processing input") {
		t.Errorf("error %q should end with ffmpeg's last stderr line", msg)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("error %v should wrap *exec.ExitError", err)
	}
}
