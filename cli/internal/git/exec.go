// Package git wraps the git commands stagecheck needs: repository discovery,
// staged-file listing, status parsing, stash-based snapshots and the Workflow
// state machine that hides, applies and restores changes around a run.
// Every call execs the git binary and waits for it to exit.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ExitError reports a git command that ran but exited non-zero.
type ExitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("git %s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Exec runs git with args in dir and returns its stdout. Submodule recursion
// is disabled so snapshot and checkout commands never touch submodules.
func Exec(ctx context.Context, dir string, args ...string) (string, error) {
	full := append([]string{"-c", "submodule.recurse=false"}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = dir
	cmd.Env = gitEnv()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &ExitError{
				Args:     args,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return stdout.String(), fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

// gitEnv keeps the caller's environment (a pre-commit hook may set
// GIT_INDEX_FILE) and disables prompts and pagers.
func gitEnv() []string {
	env := os.Environ()
	return append(env,
		"GIT_TERMINAL_PROMPT=0",
		"GIT_PAGER=cat", // subprocess output is captured
	)
}

// splitNUL splits NUL-separated git output, dropping the trailing empty field.
func splitNUL(s string) []string {
	s = strings.TrimSuffix(s, "\x00")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}
