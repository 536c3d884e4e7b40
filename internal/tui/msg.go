package tui

import (
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

// eventMsg wraps a recorder event.
type eventMsg event.Event

// eventsClosedMsg signals the session closed its event channel.
type eventsClosedMsg struct{}

// tickMsg is sent every second for the uptime clock.
type tickMsg time.Time
