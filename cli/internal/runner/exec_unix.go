//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// setGracefulShutdown makes context cancellation send SIGINT instead of SIGKILL.
func setGracefulShutdown(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
}

func platformShell() []string {
	return []string{"/bin/sh", "-c"}
}
