package trigger

import (
	"context"
	"os"
	"os/signal"
	"time"
)

// Signal fires a save whenever the process receives one of Signals, so a
// window-manager keybinding can run `pkill -USR1 replay`. With no Signals it
// uses DefaultSignals.
type Signal struct {
	Signals  []os.Signal
	Duration time.Duration
}

func (s Signal) Name() string { return "signal" }

func (s Signal) Run(ctx context.Context, fire func(Request)) error {
	sigs := s.Signals
	if len(sigs) == 0 {
		sigs = DefaultSignals
	}
	if len(sigs) == 0 {
		<-ctx.Done()
		return nil
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			fire(Request{Duration: s.Duration, Source: s.Name()})
		}
	}
}
