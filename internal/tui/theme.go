package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

// Theme holds the accent-color-derived styles.
type Theme struct {
	header  lipgloss.Style
	accent  lipgloss.Style
	spinner lipgloss.Style
}

// NewTheme creates a Theme from a hex accent color string (e.g. "#7D56F4").
// If accentColor is empty, the default accent color is used.
func NewTheme(accentColor string) Theme {
	color := defaultAccentColor
	if accentColor != "" {
		color = accentColor
	}
	c := lipgloss.Color(color)
	return Theme{
		header: lipgloss.NewStyle().
			Background(c).
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true),
		accent:  lipgloss.NewStyle().Foreground(c),
		spinner: lipgloss.NewStyle().Foreground(c),
	}
}

// HeaderStyle returns the style for the header bar.
func (t Theme) HeaderStyle() lipgloss.Style {
	return t.header
}

// RenderEvent renders e as a single terminal line no wider than width.
func (t Theme) RenderEvent(e event.Event, width int) string {
	ts := timestampStyle.Render(fmt.Sprintf("[%s]", e.Timestamp.Format("15:04:05")))
	msg := singleLine(e.Message)
	if e.Err != "" && e.Kind != event.ClipSaved {
		msg += ": " + singleLine(e.Err)
	}
	msg = truncate(msg, width-15)
	style := kindStyle(e.Kind)
	if e.Kind == event.SaveRequested {
		style = t.accent
	}
	return fmt.Sprintf("%s  %s %s", ts, kindIcon(e.Kind), style.Render(msg))
}

// singleLine collapses newlines so an event occupies one row.
func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

func truncate(s string, max int) string {
	if max < 20 {
		max = 20
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
