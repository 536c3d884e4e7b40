package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/status"
)

// MaxRecent is how many events the view keeps on screen.
const MaxRecent = 10

// Model is the bubbletea model for the recorder status view.
type Model struct {
	events <-chan event.Event

	// save is called when the user presses s; requestStop once on q.
	save        func()
	requestStop func()

	theme   Theme
	spinner spinner.Model
	width   int
	height  int

	snapshot    status.Snapshot
	hasSnapshot bool
	recent      []event.Event
	saving      int
	lastClip    string
	restarts    int

	startedAt time.Time
	now       time.Time

	stopRequested bool
	done          bool
}

// New creates the status view. The view quits when events is closed. save
// and requestStop may be nil.
func New(events <-chan event.Event, accentColor string, save, requestStop func()) Model {
	th := NewTheme(accentColor)
	now := time.Now()
	return Model{
		events:      events,
		save:        save,
		requestStop: requestStop,
		theme:       th,
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(th.spinner)),
		width:       80,
		height:      24,
		startedAt:   now,
		now:         now,
	}
}

// Init starts the event listener and the clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent blocks on the event channel and returns the next message.
func waitForEvent(ch <-chan event.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(e)
	}
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case eventMsg:
		return m.handleEvent(event.Event(msg))
	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()
	case spinner.TickMsg:
		if m.saving == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case eventsClosedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case keySave:
		if m.save != nil && !m.stopRequested {
			m.save()
		}
	case keyQuit, keyCtrlC:
		if m.requestStop == nil || m.stopRequested {
			return m, tea.Quit
		}
		// Keep drawing until the session closes the channel.
		m.stopRequested = true
		m.requestStop()
	}
	return m, nil
}

func (m Model) handleEvent(e event.Event) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{waitForEvent(m.events)}

	switch e.Kind {
	case event.Status:
		m.snapshot = status.FromEvent(e)
		m.hasSnapshot = true
		return m, cmds[0]
	case event.SaveRequested:
		if m.saving == 0 {
			cmds = append(cmds, m.spinner.Tick)
		}
		m.saving++
	case event.ClipSaved, event.ClipFailed:
		if m.saving > 0 {
			m.saving--
		}
		if e.Kind == event.ClipSaved {
			m.lastClip = e.ClipPath
		}
	case event.CaptureStarted:
		m.snapshot.Running = true
	case event.CaptureStopped, event.CaptureCrashed:
		m.snapshot.Running = false
	case event.CaptureRestarted:
		m.snapshot.Running = true
		m.restarts = e.Restarts
	case event.Shutdown:
		m.stopRequested = true
	}

	m.recent = append(m.recent, e)
	if len(m.recent) > MaxRecent {
		m.recent = append([]event.Event(nil), m.recent[len(m.recent)-MaxRecent:]...)
	}
	return m, tea.Batch(cmds...)
}

// Saving reports how many saves are in flight.
func (m Model) Saving() int { return m.saving }

// Recent returns the events currently on screen, oldest first.
func (m Model) Recent() []event.Event { return m.recent }

// Done reports whether the event channel has closed.
func (m Model) Done() bool { return m.done }
