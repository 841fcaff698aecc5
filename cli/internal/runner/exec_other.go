//go:build !unix

package runner

import "os/exec"

// setGracefulShutdown is a no-op: SIGINT is not available, so cancellation
// uses the default os.Process.Kill.
func setGracefulShutdown(cmd *exec.Cmd) {
	_ = cmd
}

func platformShell() []string {
	return []string{"cmd", "/C"}
}
