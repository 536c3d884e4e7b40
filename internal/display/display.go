// Package display finds the screen region to record and the title of the
// focused window, which becomes the clip label.
package display

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/capture"
)

// Unknown is the title used whenever the focused window cannot be named.
const Unknown = "unknown"

// DefaultRegion is assumed when no monitor can be detected.
var DefaultRegion = capture.Region{Width: 1920, Height: 1080}

// Locator finds the primary monitor.
type Locator interface {
	Primary(ctx context.Context) (capture.Region, error)
}

// TitleSource names the focused window. It never fails; an unknown title is
// reported as Unknown.
type TitleSource interface {
	ActiveTitle(ctx context.Context) string
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// Static is a Locator that always returns the same region.
type Static struct {
	Region capture.Region
}

// Primary returns s.Region, or DefaultRegion when it is empty.
func (s Static) Primary(context.Context) (capture.Region, error) {
	if s.Region.Width <= 0 || s.Region.Height <= 0 {
		return DefaultRegion, nil
	}
	return s.Region, nil
}

// XRandr locates the primary monitor by parsing `xrandr --query`.
type XRandr struct {
	Run Runner // defaults to running the real command
}

// Primary returns the geometry of the output flagged primary, or of the
// first connected output when none is.
func (x XRandr) Primary(ctx context.Context) (capture.Region, error) {
	run := x.Run
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, "xrandr", "--query")
	if err != nil {
		return capture.Region{}, fmt.Errorf("display: xrandr: %w", err)
	}
	return ParseXRandr(out)
}

// geometryRe matches WxH+X+Y, e.g. "2560x1440+1920+0". Offsets left of or
// above the origin appear as "-1920" or "+-1920".
var geometryRe = regexp.MustCompile(`(\d+)x(\d+)(\+-?\d+|-\d+)(\+-?\d+|-\d+)`)

// ParseXRandr extracts the primary monitor region from xrandr output.
func ParseXRandr(out string) (capture.Region, error) {
	var first *capture.Region
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "connected" {
			continue
		}
		m := geometryRe.FindStringSubmatch(line)
		if m == nil {
			continue // connected but disabled
		}
		r := capture.Region{Width: atoi(m[1]), Height: atoi(m[2]), OffsetX: atoi(m[3]), OffsetY: atoi(m[4])}
		if len(fields) > 2 && fields[2] == "primary" {
			return r, nil
		}
		if first == nil {
			first = &r
		}
	}
	if first == nil {
		return capture.Region{}, fmt.Errorf("display: no connected output in xrandr output")
	}
	return *first, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(s, "+"))
	return n
}

// Fixed is a TitleSource returning a constant title.
type Fixed string

// ActiveTitle returns f, or Unknown when f is empty.
func (f Fixed) ActiveTitle(context.Context) string {
	if f == "" {
		return Unknown
	}
	return string(f)
}

// XProp reads the focused window title through xprop.
type XProp struct {
	Run Runner
}

var (
	windowIDRe = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	wmNameRe   = regexp.MustCompile(`=\s*"(.*)"\s*$`)
)

// ActiveTitle asks the root window for _NET_ACTIVE_WINDOW, then that
// window for _NET_WM_NAME.
func (x XProp) ActiveTitle(ctx context.Context) string {
	run := x.Run
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, "xprop", "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return Unknown
	}
	id := windowIDRe.FindString(out)
	if id == "" || strings.TrimLeft(id[2:], "0") == "" {
		return Unknown
	}

	out, err = run(ctx, "xprop", "-id", id, "_NET_WM_NAME")
	if err != nil {
		return Unknown
	}
	m := wmNameRe.FindStringSubmatch(strings.TrimSpace(out))
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return Unknown
	}
	return strings.ReplaceAll(m[1], `\"`, `"`)
}
