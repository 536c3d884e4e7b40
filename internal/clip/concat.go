package clip

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// killWait bounds how long a cancelled ffmpeg may hold its output pipe.
const killWait = 2 * time.Second

// Concatenator joins the segments listed in a concat manifest into out.
type Concatenator interface {
	// Copy stream-copies without re-encoding.
	Copy(ctx context.Context, manifest, out string) error
	// Reencode transcodes, which tolerates mismatched or truncated segments.
	Reencode(ctx context.Context, manifest, out string) error
}

// FFmpegConcat is the Concatenator backed by ffmpeg's concat demuxer.
type FFmpegConcat struct {
	Path    string // ffmpeg executable
	Encoder string
	Preset  string

	// Command builds the process to run. Defaults to exec.CommandContext.
	Command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// CopyArgs returns the stream-copy arguments.
func CopyArgs(manifest, out string) []string {
	return []string{
		"-y", "-f", "concat", "-safe", "0", "-i", manifest,
		"-c", "copy", "-movflags", "+faststart",
		out,
	}
}

// ReencodeArgs returns the re-encode arguments.
func ReencodeArgs(manifest, out, encoder, preset string) []string {
	return []string{
		"-y", "-f", "concat", "-safe", "0", "-i", manifest,
		"-c:v", encoder, "-preset", preset, "-pix_fmt", "yuv420p",
		out,
	}
}

func (f *FFmpegConcat) Copy(ctx context.Context, manifest, out string) error {
	return f.run(ctx, "copy", CopyArgs(manifest, out))
}

func (f *FFmpegConcat) Reencode(ctx context.Context, manifest, out string) error {
	return f.run(ctx, "re-encode", ReencodeArgs(manifest, out, f.Encoder, f.Preset))
}

func (f *FFmpegConcat) run(ctx context.Context, mode string, args []string) error {
	command := f.Command
	if command == nil {
		command = exec.CommandContext
	}
	exe := f.Path
	if exe == "" {
		exe = "ffmpeg"
	}

	cmd := command(ctx, exe, args...)
	cmd.WaitDelay = killWait
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if detail := lastLine(stderr.String()); detail != "" {
			return fmt.Errorf("ffmpeg concat %s: %w: %s", mode, err, detail)
		}
		return fmt.Errorf("ffmpeg concat %s: %w", mode, err)
	}
	return nil
}

// lastLine returns the final non-empty line, which is where ffmpeg puts
// the reason it gave up.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
