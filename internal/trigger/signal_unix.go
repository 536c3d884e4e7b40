//go:build !windows

package trigger

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultSignals are the signals a Signal source listens for.
var DefaultSignals = []os.Signal{syscall.SIGUSR1}

// SignalRecorder asks the recorder running as pid to save a clip.
func SignalRecorder(pid int) error {
	if err := unix.Kill(pid, unix.SIGUSR1); err != nil {
		return fmt.Errorf("trigger: signal pid %d: %w", pid, err)
	}
	return nil
}
