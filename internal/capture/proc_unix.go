//go:build !windows

package capture

import (
	"os"
	"os/exec"
)

// interrupt sends SIGINT so ffmpeg finalises the segment it is writing.
func interrupt(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

func hideWindow(*exec.Cmd) {}
