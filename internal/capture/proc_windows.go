//go:build windows

package capture

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// interrupt kills the process; Windows has no SIGINT for a child without a
// shared console.
func interrupt(p *os.Process) error {
	return p.Kill()
}

func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NO_WINDOW}
}
