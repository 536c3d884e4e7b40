package main

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/notify"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/session"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/status"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/store"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/trigger"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/tui"
)

// eventSinks are the consumers of the session's events besides the TUI.
type eventSinks struct {
	history  store.Writer // nil when the history could not be opened
	notifier *notify.Notifier
	log      *zap.SugaredLogger
	status   io.Writer // plain status lines; nil with the TUI
}

func (s eventSinks) handle(e event.Event) {
	if e.Kind == event.Status {
		if s.status != nil {
			fmt.Fprintln(s.status, status.Format(status.FromEvent(e)))
		}
		return
	}

	s.log.Debugw("event", "kind", e.Kind.String(), "message", e.Message)
	if s.history != nil {
		if err := s.history.Append(e); err != nil {
			s.log.Warnw("failed to record event", "kind", e.Kind.String(), "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.Hook(e)
	}
}

// drain delivers every event to sinks and forwards it to out without
// blocking. When events closes, drain closes out and the returned channel.
func drain(events <-chan event.Event, sinks eventSinks, out chan<- event.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if out != nil {
			defer close(out)
		}
		for e := range events {
			sinks.handle(e)
			if out == nil {
				continue
			}
			select {
			case out <- e:
			default:
			}
		}
	}()
	return done
}

// runPlain records with events drained to the log, the history and stdout.
func runPlain(ctx context.Context, ctrl *session.Controller, sources []trigger.Source, sinks eventSinks) error {
	done := drain(ctrl.Events(), sinks, nil)
	err := ctrl.Run(ctx, sources...)
	<-done
	return err
}

// runWithTUI records with the status view in the foreground. The view's s
// key is an extra trigger source; q cancels ctx, and the view exits once the
// session has shut down.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, ctrl *session.Controller, sources []trigger.Source, sinks eventSinks, accentColor string) error {
	tuiEvents := make(chan event.Event, 128)
	hotkey := trigger.NewChannel("tui")
	sources = append(sources, hotkey)

	save := func() { hotkey.Send(trigger.Request{Source: "tui"}) }
	program := tea.NewProgram(tui.New(tuiEvents, accentColor, save, cancel), tea.WithAltScreen())

	done := drain(ctrl.Events(), sinks, tuiEvents)
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(ctx, sources...) }()

	_, tuiErr := program.Run()
	cancel()
	runErr := <-errCh
	<-done

	if tuiErr != nil {
		return fmt.Errorf("tui: %w", tuiErr)
	}
	return runErr
}
