// Package tui provides a bubbletea + lipgloss status view for the recorder.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

// defaultAccentColor is the default accent color (indigo).
const defaultAccentColor = "#7D56F4"

var (
	colorWhite  = lipgloss.Color("#FAFAFA")
	colorGray   = lipgloss.Color("#888888")
	colorBlue   = lipgloss.Color("#5B9BD5")
	colorGreen  = lipgloss.Color("#6BCB77")
	colorYellow = lipgloss.Color("#FFD93D")
	colorRed    = lipgloss.Color("#FF6B6B")
	colorOrange = lipgloss.Color("#FFA54F")
)

// Styles that do not depend on the accent color.
var (
	footerStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	timestampStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	captureStyle = lipgloss.NewStyle().
			Foreground(colorBlue)

	pruneStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	savedStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	supervisorStyle = lipgloss.NewStyle().
			Foreground(colorOrange)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorWhite)
)

// kindIcon returns the icon shown before an event of kind k.
func kindIcon(k event.Kind) string {
	switch k {
	case event.CaptureStarted:
		return "⏺"
	case event.CaptureStopped:
		return "⏹"
	case event.CaptureCrashed, event.ClipFailed:
		return "❌"
	case event.CaptureRestarted:
		return "🛡"
	case event.SegmentsPruned:
		return "✂"
	case event.LowSpace:
		return "⚠"
	case event.SaveRequested:
		return "💾"
	case event.ClipSaved:
		return "✅"
	case event.Shutdown:
		return "⏏"
	default:
		return "·"
	}
}

// kindStyle returns the lipgloss style for an event of kind k.
func kindStyle(k event.Kind) lipgloss.Style {
	switch k {
	case event.CaptureStarted, event.CaptureStopped:
		return captureStyle
	case event.CaptureCrashed, event.ClipFailed:
		return errorStyle
	case event.CaptureRestarted:
		return supervisorStyle
	case event.SegmentsPruned, event.LowSpace:
		return pruneStyle
	case event.ClipSaved:
		return savedStyle
	default:
		return infoStyle
	}
}
