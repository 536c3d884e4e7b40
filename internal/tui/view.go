package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/status"
)

// View renders the header, the status line, recent events and the footer.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")
	for _, e := range m.recent {
		b.WriteString(m.theme.RenderEvent(e, m.width))
		b.WriteString("\n")
	}
	for range MaxRecent - len(m.recent) {
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	state := "⏺ recording"
	switch {
	case m.stopRequested:
		state = "⏏ stopping"
	case !m.snapshot.Running:
		state = "⏹ stopped"
	}
	parts := []string{
		"🎬 ReplayKing",
		state,
		"up " + formatUptime(m.now.Sub(m.startedAt)),
	}
	if m.restarts > 0 {
		parts = append(parts, fmt.Sprintf("restarts: %d", m.restarts))
	}
	return m.theme.HeaderStyle().Width(m.width).Render(strings.Join(parts, "  │  "))
}

func (m Model) renderStatus() string {
	line := "waiting for first status…"
	if m.hasSnapshot {
		line = status.Format(m.snapshot)
	}
	if m.saving > 0 {
		line = fmt.Sprintf("%s  %s saving %d", line, m.spinner.View(), m.saving)
	}
	return line
}

func (m Model) renderFooter() string {
	clip := "—"
	if m.lastClip != "" {
		clip = filepath.Base(m.lastClip)
	}
	left := "last clip: " + clip

	keys := make([]string, 0, len(KeyBindings))
	for _, k := range KeyBindings {
		keys = append(keys, k.Key+" "+k.Help)
	}
	right := strings.Join(keys, " · ")

	gap := m.width - len([]rune(left)) - len([]rune(right))
	if gap < 2 {
		gap = 2
	}
	return footerStyle.Render(left + strings.Repeat(" ", gap) + right)
}

// formatUptime renders d as H:MM:SS.
func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, mins, s)
}
