// Package notify tells the user a clip was saved: a console notice, plus a
// fire-and-forget HTTP POST when a webhook is configured. The primary use
// case is ntfy.sh, but any HTTP webhook works.
package notify

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

// DefaultTitle is the X-Title header when none is given.
const DefaultTitle = "ReplayKing"

// Notifier announces saved and failed clips.
type Notifier struct {
	url     string
	title   string
	onSave  bool
	onError bool
	client  *http.Client

	mu      sync.Mutex
	console io.Writer
}

// New creates a Notifier. console receives a notice line for every saved
// clip; nil disables it. An empty title uses DefaultTitle.
func New(cfg config.NotificationsConfig, title string, console io.Writer) *Notifier {
	if title == "" {
		title = DefaultTitle
	}
	return &Notifier{
		url:     cfg.URL,
		title:   title,
		onSave:  cfg.OnSave,
		onError: cfg.OnError,
		client:  &http.Client{Timeout: 10 * time.Second},
		console: console,
	}
}

// Hook handles one recorder event. It never blocks on the network.
func (n *Notifier) Hook(e event.Event) {
	switch e.Kind {
	case event.ClipSaved:
		n.notice(e.Message)
		if n.onSave {
			n.send(e.Message)
		}
	case event.ClipFailed, event.CaptureCrashed:
		if n.onError {
			n.send(e.Message)
		}
	}
}

func (n *Notifier) notice(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.console != nil {
		fmt.Fprintf(n.console, "[NOTICE] %s\n", message)
	}
}

func (n *Notifier) send(message string) {
	if n.url == "" {
		return
	}
	go n.post(message)
}

// post sends a plain-text POST to the configured URL. Errors are silently
// discarded so notification failures never interrupt recording.
func (n *Notifier) post(message string) {
	req, err := http.NewRequest(http.MethodPost, n.url, strings.NewReader(message))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Title", n.title)
	resp, err := n.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
