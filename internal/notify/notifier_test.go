package notify

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

// captureServer starts an httptest.Server that records incoming requests.
// It returns the server and a function to collect all captured requests.
func captureServer(t *testing.T) (*httptest.Server, func() []capturedReq) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedReq{
			method:      r.Method,
			body:        string(body),
			contentType: r.Header.Get("Content-Type"),
			title:       r.Header.Get("X-Title"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedReq {
		mu.Lock()
		defer mu.Unlock()
		out := make([]capturedReq, len(reqs))
		copy(out, reqs)
		return out
	}
}

type capturedReq struct {
	method      string
	body        string
	contentType string
	title       string
}

// waitForRequests polls until count requests are captured or the deadline is reached.
func waitForRequests(t *testing.T, collect func() []capturedReq, count int) []capturedReq {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := collect(); len(got) >= count {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d request(s)", count)
	return nil
}

func notifications(url string, onSave, onError bool) config.NotificationsConfig {
	return config.NotificationsConfig{URL: url, OnSave: onSave, OnError: onError}
}

func TestHook_ClipSaved(t *testing.T) {
	srv, collect := captureServer(t)

	n := New(notifications(srv.URL, true, false), "replay", nil)
	n.Hook(event.Event{Kind: event.ClipSaved, Message: "Clip saved: /clips/a.mp4"})

	reqs := waitForRequests(t, collect, 1)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.method != http.MethodPost {
		t.Errorf("method = %q, want POST", r.method)
	}
	if r.body != "Clip saved: /clips/a.mp4" {
		t.Errorf("body = %q, want %q", r.body, "Clip saved: /clips/a.mp4")
	}
	if r.contentType != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", r.contentType)
	}
	if r.title != "replay" {
		t.Errorf("X-Title = %q, want replay", r.title)
	}
}

func TestHook_ClipSaved_Disabled(t *testing.T) {
	srv, collect := captureServer(t)

	n := New(notifications(srv.URL, false, true), "", nil)
	n.Hook(event.Event{Kind: event.ClipSaved, Message: "Clip saved: /clips/a.mp4"})

	// Give the goroutine time to fire (it shouldn't, but we need to be sure).
	time.Sleep(50 * time.Millisecond)
	if got := collect(); len(got) != 0 {
		t.Errorf("expected no requests, got %d", len(got))
	}
}

func TestHook_OnError(t *testing.T) {
	tests := []struct {
		name string
		kind event.Kind
	}{
		{"clip failed", event.ClipFailed},
		{"capture crashed", event.CaptureCrashed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, collect := captureServer(t)
			n := New(notifications(srv.URL, false, true), "", nil)
			n.Hook(event.Event{Kind: tt.kind, Message: "something failed"})

			reqs := waitForRequests(t, collect, 1)
			if reqs[0].body != "something failed" {
				t.Errorf("body = %q", reqs[0].body)
			}
		})
	}
}

func TestHook_OnError_Disabled(t *testing.T) {
	srv, collect := captureServer(t)

	n := New(notifications(srv.URL, true, false), "", nil)
	n.Hook(event.Event{Kind: event.ClipFailed, Message: "Clip failed"})

	time.Sleep(50 * time.Millisecond)
	if got := collect(); len(got) != 0 {
		t.Errorf("expected no requests, got %d", len(got))
	}
}

func TestHook_IgnoresOtherKinds(t *testing.T) {
	srv, collect := captureServer(t)
	var console bytes.Buffer

	n := New(notifications(srv.URL, true, true), "", &console)
	for _, kind := range []event.Kind{event.Info, event.CaptureStarted, event.SegmentsPruned, event.LowSpace, event.SaveRequested, event.Status, event.Shutdown} {
		n.Hook(event.Event{Kind: kind, Message: "noise"})
	}

	time.Sleep(50 * time.Millisecond)
	if got := collect(); len(got) != 0 {
		t.Errorf("expected no requests for non-notification kinds, got %d", len(got))
	}
	if console.Len() != 0 {
		t.Errorf("unexpected console output %q", console.String())
	}
}

func TestHook_ConsoleNotice(t *testing.T) {
	var console bytes.Buffer
	n := New(notifications("", false, false), "", &console)

	n.Hook(event.Event{Kind: event.ClipSaved, Message: "Clip saved: /clips/a.mp4"})
	n.Hook(event.Event{Kind: event.ClipFailed, Message: "Clip failed"})

	if got := console.String(); got != "[NOTICE] Clip saved: /clips/a.mp4\n" {
		t.Errorf("console = %q", got)
	}
}

func TestHook_FallbackTitle(t *testing.T) {
	srv, collect := captureServer(t)

	n := New(notifications(srv.URL, true, false), "", nil)
	n.Hook(event.Event{Kind: event.ClipSaved, Message: "done"})

	reqs := waitForRequests(t, collect, 1)
	if reqs[0].title != DefaultTitle {
		t.Errorf("X-Title = %q, want %s", reqs[0].title, DefaultTitle)
	}
}

func TestHook_PostFailureSilent(t *testing.T) {
	// Point at a server that is already closed → connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	n := New(notifications(srv.URL, true, true), "", nil)
	// None of these should panic or block.
	n.Hook(event.Event{Kind: event.ClipSaved, Message: "done"})
	n.Hook(event.Event{Kind: event.ClipFailed, Message: "err"})

	// Allow goroutines to finish.
	time.Sleep(100 * time.Millisecond)
}
