//go:build windows

package trigger

import (
	"errors"
	"os"
)

// DefaultSignals is empty: Windows has no user signals.
var DefaultSignals []os.Signal

// ErrSignalUnsupported is returned by SignalRecorder on Windows.
var ErrSignalUnsupported = errors.New("trigger: signalling a running recorder is not supported on Windows")

// SignalRecorder always fails on Windows.
func SignalRecorder(int) error { return ErrSignalUnsupported }
