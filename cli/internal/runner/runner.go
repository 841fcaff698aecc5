// Package runner executes task commands against batches of files.
//
// A command is either split into arguments and executed directly, with the
// files appended as extra arguments, or handed to a shell with the files
// quoted onto the end of the command line. Output is captured and returned;
// callers decide whether to show it.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/mattn/go-shellwords"
	"golang.org/x/term"
)

// WaitDelay is the time to wait after interrupting a command before killing it.
const WaitDelay = 5 * time.Second

// DefaultShell selects the platform shell in Spec.Shell.
const DefaultShell = "true"

// Spec describes one command invocation.
type Spec struct {
	// Command is the command line from the task configuration.
	Command string
	// Shell is empty to execute Command directly, DefaultShell for the
	// platform shell, or the path of a shell that accepts -c.
	Shell string
	// Dir is the working directory.
	Dir string
}

// Result is the outcome of one command.
type Result struct {
	// Output is stdout and stderr, interleaved as written.
	Output string
	// Err is nil on success, an *Error when the command ran and failed, or a
	// start error.
	Err error
}

// Failed reports whether the command did not succeed.
func (r Result) Failed() bool { return r.Err != nil }

// Error reports a command that exited non-zero or was interrupted.
type Error struct {
	Command     string
	ExitCode    int
	Interrupted bool
}

func (e *Error) Error() string {
	if e.Interrupted {
		return fmt.Sprintf("%s: interrupted", e.Command)
	}
	return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
}

// Runner runs a command with files appended.
type Runner interface {
	Run(ctx context.Context, spec Spec, files []string) Result
}

// Exec runs commands as child processes. The zero value is ready to use.
type Exec struct {
	// Env is the child environment; nil means os.Environ().
	Env []string
}

var (
	colorEnvOnce sync.Once
	colorEnvVars []string
)

// colorForceEnvVars are set so tools keep colored output although it is captured.
var colorForceEnvVars = []string{
	"FORCE_COLOR=1",       // Node.js, chalk, many modern tools
	"CLICOLOR_FORCE=1",    // BSD/macOS convention
	"COLORTERM=truecolor", // Indicates color support
}

func initColorEnv() {
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		colorEnvVars = colorForceEnvVars
	}
}

// Run executes spec with files and waits for it. Cancelling ctx interrupts
// the command gracefully: SIGINT first, then a kill after WaitDelay.
func (e *Exec) Run(ctx context.Context, spec Spec, files []string) Result {
	colorEnvOnce.Do(initColorEnv)

	argv, err := Argv(spec, files)
	if err != nil {
		return Result{Err: err}
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	env := e.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(append([]string(nil), env...), colorEnvVars...)
	cmd.WaitDelay = WaitDelay
	setGracefulShutdown(cmd)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err = cmd.Run()
	res := Result{Output: buf.String()}
	if err == nil {
		return res
	}
	if ctx.Err() != nil {
		res.Err = &Error{Command: spec.Command, ExitCode: -1, Interrupted: true}
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Err = &Error{Command: spec.Command, ExitCode: exitErr.ExitCode()}
		return res
	}
	res.Err = fmt.Errorf("%s: %w", spec.Command, err)
	return res
}

// Argv returns the argument vector that runs spec with files.
func Argv(spec Spec, files []string) ([]string, error) {
	if spec.Shell != "" {
		line := spec.Command
		if len(files) > 0 {
			line += " " + shellescape.QuoteCommand(files)
		}
		shell := platformShell()
		if spec.Shell != DefaultShell {
			shell = []string{spec.Shell, "-c"}
		}
		return append(shell, line), nil
	}
	args, err := Split(spec.Command)
	if err != nil {
		return nil, err
	}
	return append(args, files...), nil
}

// Split parses a command line into arguments without expanding variables or
// running substitutions.
func Split(command string) ([]string, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command %q", command)
	}
	return args, nil
}

// Program returns the executable name of command, or "" when it cannot be
// parsed.
func Program(command string) string {
	args, err := Split(command)
	if err != nil {
		return ""
	}
	return args[0]
}

// IsGitAdd reports whether command stages files itself.
func IsGitAdd(command string) bool {
	args, err := Split(command)
	if err != nil {
		return false
	}
	return len(args) >= 2 && args[0] == "git" && args[1] == "add"
}

// Title returns the display form of a command with the number of files it runs on.
func Title(command string, files int) string {
	if files == 0 {
		return command
	}
	return fmt.Sprintf("%s (%d %s)", strings.TrimSpace(command), files, plural(files, "file", "files"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
