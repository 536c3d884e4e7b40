//go:build !windows

package session

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ProcessAlive reports whether pid names a running process.
func ProcessAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
