package run

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"stagecheck/cli/internal/runner"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "git", "init")
	run(t, dir, "git", "config", "user.email", "test@stagecheck.local")
	run(t, dir, "git", "config", "user.name", "Test")
	run(t, dir, "git", "config", "commit.gpgsign", "false")
	writeFile(t, dir, "README.md", "# readme\n")
	run(t, dir, "git", "add", "README.md")
	run(t, dir, "git", "commit", "-m", "initial commit")
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func run(t *testing.T, dir, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %v: %v\n%s", name, args, err, out)
	}
}

func runOut(t *testing.T, dir, name string, args ...string) string {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("%s %v: %v", name, args, err)
	}
	return strings.TrimRight(string(out), "\n")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
	return err == nil
}

func stagedContent(t *testing.T, dir, name string) string {
	t.Helper()
	return runOut(t, dir, "git", "show", ":"+name)
}

func porcelain(t *testing.T, dir string) string {
	t.Helper()
	return runOut(t, dir, "git", "status", "--porcelain")
}

func stashList(t *testing.T, dir string) string {
	t.Helper()
	return runOut(t, dir, "git", "stash", "list")
}

// call is one recorded command invocation.
type call struct {
	Command string
	Dir     string
	Files   []string
}

// fakeRunner records calls and applies a per-command action to the files.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	actions map[string]func(files []string) error
}

func (f *fakeRunner) Run(_ context.Context, spec runner.Spec, files []string) runner.Result {
	f.mu.Lock()
	f.calls = append(f.calls, call{Command: spec.Command, Dir: spec.Dir, Files: append([]string(nil), files...)})
	action := f.actions[spec.Command]
	f.mu.Unlock()
	if action == nil {
		return runner.Result{}
	}
	if err := action(files); err != nil {
		return runner.Result{Output: err.Error() + "\n", Err: &runner.Error{Command: spec.Command, ExitCode: 1}}
	}
	return runner.Result{}
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// rewrite returns an action that replaces every file's content.
func rewrite(content string) func([]string) error {
	return func(files []string) error {
		for _, p := range files {
			if err := os.WriteFile(p, []byte(content), 0644); err != nil {
				return err
			}
		}
		return nil
	}
}

func failWith(msg string) func([]string) error {
	return func([]string) error { return errors.New(msg) }
}
