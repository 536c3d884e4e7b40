// Package config parses replay.toml (or replay.yaml) recorder configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultAccentColor is the default TUI accent color.
const DefaultAccentColor = "#E4572E"

// FileNames are the config file names searched for, in order.
var FileNames = []string{"replay.toml", "replay.yaml", "replay.yml"}

// ErrNotFound is returned by Load when no config file exists in the
// working directory or any of its parents.
var ErrNotFound = errors.New("config: no replay config found")

// hexColorRe matches a 6-digit hex color string like "#E4572E".
var hexColorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Config is the top-level recorder configuration. It is immutable once
// Load (or Defaults) has returned and Validate has passed.
type Config struct {
	Capture       CaptureConfig       `toml:"capture" yaml:"capture"`
	Buffer        BufferConfig        `toml:"buffer" yaml:"buffer"`
	Clips         ClipsConfig         `toml:"clips" yaml:"clips"`
	Supervisor    SupervisorConfig    `toml:"supervisor" yaml:"supervisor"`
	Logging       LoggingConfig       `toml:"logging" yaml:"logging"`
	History       HistoryConfig       `toml:"history" yaml:"history"`
	TUI           TUIConfig           `toml:"tui" yaml:"tui"`
	Notifications NotificationsConfig `toml:"notifications" yaml:"notifications"`

	// Root is the directory that relative paths resolve against: the
	// directory holding the config file, or the working directory when
	// running on defaults.
	Root string `toml:"-" yaml:"-"`
}

// CaptureConfig controls the ffmpeg capture-and-segment process.
type CaptureConfig struct {
	ClipLength         int    `toml:"clip_length" yaml:"clip_length"`   // seconds
	SegmentTime        int    `toml:"segment_time" yaml:"segment_time"` // seconds
	Framerate          int    `toml:"framerate" yaml:"framerate"`
	Encoder            string `toml:"encoder" yaml:"encoder"`
	Preset             string `toml:"preset" yaml:"preset"`
	KeyframeInterval   int    `toml:"keyframe_interval" yaml:"keyframe_interval"` // 0 = derived from framerate
	FFmpegPath         string `toml:"ffmpeg_path" yaml:"ffmpeg_path"`
	StopTimeoutSeconds int    `toml:"stop_timeout_seconds" yaml:"stop_timeout_seconds"`
	Display            string `toml:"display" yaml:"display"`
}

// BufferConfig controls the on-disk segment ring.
type BufferConfig struct {
	Dir                  string  `toml:"dir" yaml:"dir"`
	SafetyFactor         int     `toml:"safety_factor" yaml:"safety_factor"`
	MinFreeGB            float64 `toml:"min_free_gb" yaml:"min_free_gb"`
	PruneIntervalSeconds int     `toml:"prune_interval_seconds" yaml:"prune_interval_seconds"`
}

// ClipsConfig controls where assembled clips go.
type ClipsConfig struct {
	Dir                     string `toml:"dir" yaml:"dir"`
	AutoSaveIntervalSeconds int    `toml:"auto_save_interval_seconds" yaml:"auto_save_interval_seconds"` // 0 = off
	SaveGraceSeconds        int    `toml:"save_grace_seconds" yaml:"save_grace_seconds"`
}

// SupervisorConfig controls crash detection and restart of the capture process.
type SupervisorConfig struct {
	Enabled               bool `toml:"enabled" yaml:"enabled"`
	MaxRestarts           int  `toml:"max_restarts" yaml:"max_restarts"`
	RestartBackoffSeconds int  `toml:"restart_backoff_seconds" yaml:"restart_backoff_seconds"`
	HealthIntervalSeconds int  `toml:"health_interval_seconds" yaml:"health_interval_seconds"`
}

// LoggingConfig controls the log file and verbosity.
type LoggingConfig struct {
	Dir     string `toml:"dir" yaml:"dir"`
	Verbose bool   `toml:"verbose" yaml:"verbose"`
}

// HistoryConfig controls the JSONL clip history.
type HistoryConfig struct {
	Dir       string `toml:"dir" yaml:"dir"`
	Retention int    `toml:"retention" yaml:"retention"` // session logs to keep; 0 = unlimited
}

// TUIConfig controls the terminal status view.
type TUIConfig struct {
	AccentColor string `toml:"accent_color" yaml:"accent_color"`
}

// NotificationsConfig controls webhook/ntfy.sh notifications.
type NotificationsConfig struct {
	URL     string `toml:"url" yaml:"url"`
	OnSave  bool   `toml:"on_save" yaml:"on_save"`
	OnError bool   `toml:"on_error" yaml:"on_error"`
}

// Defaults returns a Config with the recorder's default settings.
func Defaults() Config {
	return Config{
		Capture: CaptureConfig{
			ClipLength:         120,
			SegmentTime:        10,
			Framerate:          60,
			Encoder:            "libx264",
			Preset:             "veryfast",
			StopTimeoutSeconds: 5,
		},
		Buffer: BufferConfig{
			Dir:                  "buffer",
			SafetyFactor:         3,
			MinFreeGB:            2,
			PruneIntervalSeconds: 5,
		},
		Clips: ClipsConfig{
			Dir:              "clips",
			SaveGraceSeconds: 30,
		},
		Supervisor: SupervisorConfig{
			Enabled:               true,
			MaxRestarts:           3,
			RestartBackoffSeconds: 3,
			HealthIntervalSeconds: 2,
		},
		Logging: LoggingConfig{
			Dir: "logs",
		},
		History: HistoryConfig{
			Dir:       filepath.Join(".replay", "history"),
			Retention: 20,
		},
		TUI: TUIConfig{
			AccentColor: DefaultAccentColor,
		},
		Notifications: NotificationsConfig{
			OnSave:  true,
			OnError: true,
		},
	}
}

// Validate checks the configuration for issues that would cause confusing
// runtime failures. It returns all found issues joined together.
func (c *Config) Validate() error {
	var errs []error

	if c.Capture.ClipLength <= 0 {
		errs = append(errs, fmt.Errorf("capture.clip_length must be > 0"))
	}
	if c.Capture.SegmentTime <= 0 {
		errs = append(errs, fmt.Errorf("capture.segment_time must be > 0"))
	}
	if c.Capture.Framerate <= 0 {
		errs = append(errs, fmt.Errorf("capture.framerate must be > 0"))
	}
	if c.Capture.Encoder == "" {
		errs = append(errs, fmt.Errorf("capture.encoder must not be empty"))
	}
	if c.Capture.Preset == "" {
		errs = append(errs, fmt.Errorf("capture.preset must not be empty"))
	}
	if c.Capture.KeyframeInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.keyframe_interval must be >= 0 (0 = derived)"))
	}
	if c.Capture.StopTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("capture.stop_timeout_seconds must be > 0"))
	}

	if c.Buffer.Dir == "" {
		errs = append(errs, fmt.Errorf("buffer.dir must not be empty"))
	}
	if c.Buffer.SafetyFactor < 2 {
		errs = append(errs, fmt.Errorf("buffer.safety_factor must be >= 2"))
	}
	if c.Buffer.MinFreeGB < 0 {
		errs = append(errs, fmt.Errorf("buffer.min_free_gb must be >= 0"))
	}
	if c.Buffer.PruneIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("buffer.prune_interval_seconds must be > 0"))
	}

	if c.Clips.Dir == "" {
		errs = append(errs, fmt.Errorf("clips.dir must not be empty"))
	}
	if c.Clips.AutoSaveIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("clips.auto_save_interval_seconds must be >= 0 (0 = off)"))
	}
	if c.Clips.SaveGraceSeconds <= 0 {
		errs = append(errs, fmt.Errorf("clips.save_grace_seconds must be > 0"))
	}

	if c.Supervisor.Enabled {
		if c.Supervisor.MaxRestarts < 0 {
			errs = append(errs, fmt.Errorf("supervisor.max_restarts must be >= 0"))
		}
		if c.Supervisor.RestartBackoffSeconds < 0 {
			errs = append(errs, fmt.Errorf("supervisor.restart_backoff_seconds must be >= 0"))
		}
		if c.Supervisor.HealthIntervalSeconds <= 0 {
			errs = append(errs, fmt.Errorf("supervisor.health_interval_seconds must be > 0"))
		}
	}

	if c.History.Retention < 0 {
		errs = append(errs, fmt.Errorf("history.retention must be >= 0 (0 = unlimited)"))
	}

	if c.TUI.AccentColor != "" && !hexColorRe.MatchString(c.TUI.AccentColor) {
		errs = append(errs, fmt.Errorf("tui.accent_color must be a hex color (e.g. \"#E4572E\")"))
	}

	if c.Notifications.URL != "" {
		u, parseErr := url.ParseRequestURI(c.Notifications.URL)
		if parseErr != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("notifications.url must be a valid http or https URL"))
		}
	}

	return errors.Join(errs...)
}

// KeyframeInterval returns the GOP length in frames. When not set explicitly
// it is two seconds of frames, never below 30.
func (c *Config) KeyframeInterval() int {
	if c.Capture.KeyframeInterval > 0 {
		return c.Capture.KeyframeInterval
	}
	return max(30, 2*c.Capture.Framerate)
}

// ClipLength returns the default clip length.
func (c *Config) ClipLength() time.Duration {
	return time.Duration(c.Capture.ClipLength) * time.Second
}

// SegmentTime returns the target duration of one ring-buffer segment.
func (c *Config) SegmentTime() time.Duration {
	return time.Duration(c.Capture.SegmentTime) * time.Second
}

// StopTimeout returns how long a graceful capture stop may take before the
// process is killed.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Capture.StopTimeoutSeconds) * time.Second
}

// SaveGrace returns how long shutdown lets in-flight saves run before
// cancelling them.
func (c *Config) SaveGrace() time.Duration {
	return time.Duration(c.Clips.SaveGraceSeconds) * time.Second
}

// PruneInterval returns the capacity manager's tick interval.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.Buffer.PruneIntervalSeconds) * time.Second
}

// AutoSaveInterval returns the periodic auto-save interval; zero means off.
func (c *Config) AutoSaveInterval() time.Duration {
	return time.Duration(c.Clips.AutoSaveIntervalSeconds) * time.Second
}

// MinFreeBytes returns buffer.min_free_gb in bytes.
func (c *Config) MinFreeBytes() uint64 {
	return uint64(math.Round(c.Buffer.MinFreeGB * (1 << 30)))
}

// BufferDir returns the absolute ring-buffer directory.
func (c *Config) BufferDir() string { return c.resolve(c.Buffer.Dir) }

// ClipsDir returns the absolute output directory for clips.
func (c *Config) ClipsDir() string { return c.resolve(c.Clips.Dir) }

// LogsDir returns the absolute log directory.
func (c *Config) LogsDir() string { return c.resolve(c.Logging.Dir) }

// HistoryDir returns the absolute clip history directory.
func (c *Config) HistoryDir() string { return c.resolve(c.History.Dir) }

// StateDir returns the directory holding session-state.json.
func (c *Config) StateDir() string { return c.resolve(".replay") }

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Load reads a replay config from the given path. If path is empty, it walks
// up from the current working directory looking for one of FileNames and
// returns ErrNotFound when none exists. Unknown keys are rejected as likely
// typos. The returned config has Root set and has been validated.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := findConfig()
		if err != nil {
			return nil, err
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s (possible typos?)", path, strings.Join(keys, ", "))
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	cfg.Root = filepath.Dir(abs)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Defaults rooted at dir
// when no config file is found.
func LoadOrDefault(path, dir string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if path != "" || !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	def := Defaults()
	def.Root = dir
	return &def, nil
}

// findConfig walks up from the current directory looking for a config file.
func findConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: get working directory: %w", err)
	}

	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w (searched up from %s)", ErrNotFound, dir)
		}
		dir = parent
	}
}

// InitFile writes a default replay.toml template to the given directory.
func InitFile(dir string) (string, error) {
	path := filepath.Join(dir, "replay.toml")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config: replay.toml already exists at %s", path)
	}

	if err := os.WriteFile(path, []byte(template), 0644); err != nil {
		return "", fmt.Errorf("config: write %s: %w", path, err)
	}
	return path, nil
}

const template = `# replay.toml — ReplayKing recorder configuration
# Relative paths resolve against the directory holding this file.

[capture]
clip_length = 120         # seconds saved per clip by default
segment_time = 10         # seconds per ring-buffer segment
framerate = 60
encoder = "libx264"       # e.g. libx264, h264_nvenc
preset = "veryfast"
keyframe_interval = 0     # 0 = max(30, 2 * framerate)
ffmpeg_path = ""          # empty = look up ffmpeg in PATH
stop_timeout_seconds = 5
display = ""              # X11 display; empty = $DISPLAY or :0.0

[buffer]
dir = "buffer"
safety_factor = 3         # keep ceil(clip_length / segment_time) * safety_factor segments
min_free_gb = 2           # prune harder below this much free space
prune_interval_seconds = 5

[clips]
dir = "clips"
auto_save_interval_seconds = 0  # 0 = off
save_grace_seconds = 30         # on shutdown, cancel saves still running after this

[supervisor]
enabled = true
max_restarts = 3
restart_backoff_seconds = 3
health_interval_seconds = 2

[logging]
dir = "logs"
verbose = false

[history]
dir = ".replay/history"
retention = 20            # session logs to keep; 0 = unlimited

[tui]
accent_color = "#E4572E"

[notifications]
url = ""        # ntfy.sh topic URL or any HTTP webhook (empty = disabled)
on_save = true
on_error = true
`
