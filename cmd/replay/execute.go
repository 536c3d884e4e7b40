package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/clip"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/diskspace"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/logging"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/notify"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/segment"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/session"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/store"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/supervisor"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/trigger"
)

// logFileName is the JSON log within the logging dir.
const logFileName = "replay.log"

var errNoRecorder = errors.New("no recorder is running (start one with 'replay record')")

type recordOptions struct {
	configPath string
	noTUI      bool
	verbose    bool
	clipLength int
	autoSave   int
}

// apply overlays command-line overrides on cfg and revalidates it.
func (o recordOptions) apply(cfg *config.Config) error {
	if o.clipLength > 0 {
		cfg.Capture.ClipLength = o.clipLength
	}
	if o.autoSave >= 0 {
		cfg.Clips.AutoSaveIntervalSeconds = o.autoSave
	}
	if o.verbose {
		cfg.Logging.Verbose = true
	}
	return cfg.Validate()
}

// executeRecord loads config, builds the session and records until
// interrupted.
func executeRecord(opts recordOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}

	useTUI := !opts.noTUI && isatty.IsTerminal(os.Stdout.Fd())
	var console, notices, statusOut io.Writer = os.Stderr, os.Stdout, os.Stdout
	if useTUI {
		console, notices, statusOut = nil, nil, nil
	}

	log, closeLog, err := logging.New(logging.Options{
		Verbose: cfg.Logging.Verbose,
		File:    filepath.Join(cfg.LogsDir(), logFileName),
		Console: console,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	sinks := eventSinks{
		notifier: notify.New(cfg.Notifications, "", notices),
		log:      log,
		status:   statusOut,
	}
	history, err := store.NewJSONL(cfg.HistoryDir())
	if err != nil {
		log.Warnw("clip history disabled", "dir", cfg.HistoryDir(), "error", err)
	} else {
		sinks.history = history
		defer func() {
			if err := history.Close(); err != nil {
				log.Warnw("failed to close clip history", "error", err)
			}
			if err := store.EnforceRetention(cfg.HistoryDir(), cfg.History.Retention); err != nil {
				log.Warnw("failed to enforce history retention", "error", err)
			}
		}()
	}

	ctrl := session.New(cfg, session.Deps{Logger: log})
	sources := []trigger.Source{trigger.Signal{}}
	if every := cfg.AutoSaveInterval(); every > 0 {
		sources = append(sources, trigger.Interval{Every: every})
	}

	registerQuitHandler()
	ctx, cancel := signalContext()
	defer cancel()

	log.Infow("recorder starting",
		"session", ctrl.ID(),
		"buffer", cfg.BufferDir(),
		"clips", cfg.ClipsDir(),
		"clip_length", cfg.ClipLength(),
		"segment_time", cfg.SegmentTime(),
	)

	if useTUI {
		return runWithTUI(ctx, cancel, ctrl, sources, sinks, cfg.TUI.AccentColor)
	}
	return runPlain(ctx, ctrl, sources, sinks)
}

// executeSave assembles a clip from the buffer in this process.
func executeSave(configPath string, d time.Duration, w io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(logging.Options{
		Verbose: cfg.Logging.Verbose,
		File:    filepath.Join(cfg.LogsDir(), logFileName),
		Console: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	if d <= 0 {
		d = cfg.ClipLength()
	}

	ctx, cancel := signalContext()
	defer cancel()

	events := make(chan event.Event, 4)
	c, err := session.SaveOnce(ctx, cfg, session.Deps{Logger: log}, d, events)
	close(events)
	recordHistory(cfg.HistoryDir(), events, log)
	if err != nil {
		return err
	}

	var size int64 = -1
	if info, statErr := os.Stat(c.Path); statErr == nil {
		size = info.Size()
	}
	fmt.Fprintln(w, formatSaved(c, size))
	return nil
}

// recordHistory appends a one-off save's events to a fresh history file.
func recordHistory(dir string, events <-chan event.Event, log *zap.SugaredLogger) {
	if len(events) == 0 {
		return
	}
	log = logging.OrNop(log)
	history, err := store.NewJSONL(dir)
	if err != nil {
		log.Warnw("clip not recorded in history", "error", err)
		return
	}
	defer history.Close()
	for e := range events {
		if err := history.Append(e); err != nil {
			log.Warnw("clip not recorded in history", "error", err)
			return
		}
	}
}

// executeSignalSave asks the running recorder to save a clip.
func executeSignalSave(configPath string, w io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := supervisor.LoadState(cfg.StateDir())
	if err != nil {
		return err
	}
	if !st.Active() || !session.ProcessAlive(st.RecorderPID) {
		return errNoRecorder
	}
	if err := trigger.SignalRecorder(st.RecorderPID); err != nil {
		return err
	}
	fmt.Fprintf(w, "Asked recorder (pid %d) to save a clip\n", st.RecorderPID)
	return nil
}

// executeStatus prints the persisted recorder state with live buffer and
// disk figures.
func executeStatus(configPath string, w io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := supervisor.LoadState(cfg.StateDir())
	if err != nil {
		return err
	}

	r := statusReport{
		State:     st,
		Alive:     st.RecorderPID > 0 && session.ProcessAlive(st.RecorderPID),
		BufferDir: cfg.BufferDir(),
		Segments:  segment.NewStore(cfg.BufferDir(), nil).Count(),
	}
	r.Free, r.FreeErr = diskspace.Free(cfg.ClipsDir())
	clips, err := store.ReadAll(cfg.HistoryDir())
	if err != nil {
		return err
	}
	r.Clips = len(clips)
	if len(clips) > 0 {
		r.LastClip = &clips[len(clips)-1]
	}

	fmt.Fprint(w, formatStatus(r, time.Now()))
	return nil
}

// executeClips lists saved clips, newest first.
func executeClips(configPath string, limit int, w io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	clips, err := store.ReadAll(cfg.HistoryDir())
	if err != nil {
		return err
	}
	fmt.Fprint(w, formatClipList(clips, limit, fileSize, time.Now()))
	return nil
}

// fileSize returns the size of path, or -1 when it cannot be read.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

type statusReport struct {
	State     supervisor.State
	Alive     bool
	BufferDir string
	Segments  int
	Free      uint64
	FreeErr   error
	Clips     int
	LastClip  *store.ClipRecord
}

// formatStatus renders a statusReport.
func formatStatus(r statusReport, now time.Time) string {
	var b strings.Builder
	st := r.State

	b.WriteString("ReplayKing Status\n")
	b.WriteString("─────────────────\n")

	switch {
	case st.RecorderPID == 0:
		b.WriteString("No recorder state found. Run 'replay record' first.\n")
	case st.Active() && r.Alive:
		fmt.Fprintf(&b, "  %-20s recording (pid %d)\n", "Recorder:", st.RecorderPID)
	case st.Active():
		fmt.Fprintf(&b, "  %-20s not responding (pid %d is gone)\n", "Recorder:", st.RecorderPID)
	default:
		fmt.Fprintf(&b, "  %-20s stopped\n", "Recorder:")
	}

	if st.RecorderPID != 0 {
		fmt.Fprintf(&b, "  %-20s %s\n", "Session:", st.SessionID)
		if !st.StartedAt.IsZero() {
			fmt.Fprintf(&b, "  %-20s %s\n", "Started:", humanize.RelTime(st.StartedAt, now, "ago", "from now"))
		}
		if !st.FinishedAt.IsZero() {
			fmt.Fprintf(&b, "  %-20s %s (ran %s)\n", "Finished:",
				humanize.RelTime(st.FinishedAt, now, "ago", "from now"),
				st.FinishedAt.Sub(st.StartedAt).Round(time.Second))
		}
		if st.CapturePID != 0 {
			fmt.Fprintf(&b, "  %-20s %d\n", "Capture PID:", st.CapturePID)
		}
		fmt.Fprintf(&b, "  %-20s %d\n", "Restarts:", st.Restarts)
		if !st.LastCrash.IsZero() {
			fmt.Fprintf(&b, "  %-20s %s", "Last crash:", humanize.RelTime(st.LastCrash, now, "ago", "from now"))
			if st.LastError != "" {
				fmt.Fprintf(&b, " (%s)", st.LastError)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "  %-20s %d segments in %s\n", "Buffer:", r.Segments, r.BufferDir)
	if r.FreeErr != nil {
		fmt.Fprintf(&b, "  %-20s unknown (%v)\n", "Free space:", r.FreeErr)
	} else {
		fmt.Fprintf(&b, "  %-20s %s\n", "Free space:", humanize.IBytes(r.Free))
	}
	fmt.Fprintf(&b, "  %-20s %d\n", "Clips saved:", r.Clips)
	if r.LastClip != nil {
		fmt.Fprintf(&b, "  %-20s %s (%s)\n", "Last clip:",
			filepath.Base(r.LastClip.Path),
			humanize.RelTime(r.LastClip.SavedAt, now, "ago", "from now"))
	}
	return b.String()
}

// formatClipList renders clips newest first, at most limit of them (0 = all).
// size returns a clip file's size, or a negative value when it is missing.
func formatClipList(clips []store.ClipRecord, limit int, size func(string) int64, now time.Time) string {
	if len(clips) == 0 {
		return "No clips saved yet.\n"
	}

	ordered := slices.Clone(clips)
	slices.Reverse(ordered)
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Clips (%d of %d)\n", len(ordered), len(clips))
	b.WriteString("─────\n")
	for _, c := range ordered {
		sz := "missing"
		if n := size(c.Path); n >= 0 {
			sz = humanize.IBytes(uint64(n))
		}
		var flags string
		if c.Reencoded {
			flags = "  re-encoded"
		}
		fmt.Fprintf(&b, "  %-44s %5s  %9s  %s%s\n",
			filepath.Base(c.Path),
			seconds(time.Duration(c.Requested*float64(time.Second))),
			sz,
			humanize.RelTime(c.SavedAt, now, "ago", "from now"),
			flags,
		)
	}
	return b.String()
}

// formatSaved renders the result of a one-off save.
func formatSaved(c *clip.Clip, size int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Clip saved: %s\n", c.Path)
	fmt.Fprintf(&b, "  %d segments, ~%s", len(c.Segments), seconds(c.Nominal))
	if size >= 0 {
		fmt.Fprintf(&b, ", %s", humanize.IBytes(uint64(size)))
	}
	if c.Reencoded {
		b.WriteString(", re-encoded")
	}
	return b.String()
}
