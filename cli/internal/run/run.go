// Package run implements a stagecheck run: find the staged files, match them
// against the task configuration, and run the tasks inside the git lifecycle
// that backs up the repository, hides unstaged changes, stages task edits and
// restores or rolls back afterwards. Used by the CLI and by tests.
package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stagecheck/cli/internal/chunk"
	"stagecheck/cli/internal/config"
	"stagecheck/cli/internal/erruser"
	"stagecheck/cli/internal/git"
	"stagecheck/cli/internal/match"
	"stagecheck/cli/internal/runner"
	"stagecheck/cli/internal/session"
	"stagecheck/cli/internal/state"
	"stagecheck/cli/internal/tasktree"
)

// Messages added to the run output.
const (
	msgNoStagedFiles = "No staged files found."
	msgNoTasks       = "No staged files match any configured task."
	msgGitAdd        = "Some of your tasks use `git add`. Task modifications are staged automatically, so it is not needed."
)

// Options configures Run.
type Options struct {
	// Cwd is the directory to run in; empty means the process working directory.
	Cwd string
	// ConfigPath is an explicit task configuration; empty means discovery.
	ConfigPath string
	// Concurrency bounds concurrently running groups and tasks: 0 is
	// unbounded, 1 is serial.
	Concurrency int
	// MaxArgLength bounds the combined length of file arguments per command;
	// 0 means chunk.DefaultMaxArgLength().
	MaxArgLength int
	// Backup takes a snapshot so a failed run can be reverted.
	Backup     bool
	AllowEmpty bool
	Quiet      bool
	Relative   bool
	// Shell runs commands through a shell; see runner.Spec.
	Shell string

	// Runner executes commands; nil means runner.Exec.
	Runner runner.Runner
	// Observer receives task tree progress; nil discards it.
	Observer tasktree.Observer
	Logger   *slog.Logger
}

// Error reports a failed run. Context holds every recorded error kind.
type Error struct {
	Context *state.Context
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	kinds := make([]string, 0)
	for _, k := range e.Context.Errors() {
		kinds = append(kinds, string(k))
	}
	return "stagecheck failed: " + strings.Join(kinds, ", ")
}

func (e *Error) Unwrap() error { return e.Err }

// Run executes one stagecheck run and returns its context. The error is nil
// on success, including when there was nothing to do, and an *Error
// otherwise. Cancelling ctx interrupts running commands and keeps further
// commands from starting; the repository is then restored as after any task
// failure.
func Run(ctx context.Context, opts Options) (*state.Context, error) {
	rc := state.New(opts.Quiet)
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("component", "run")
	fail := func(kind state.Kind, err error) (*state.Context, error) {
		rc.AddError(kind)
		return rc, &Error{Context: rc, Err: err}
	}

	cwd, err := resolveCwd(opts.Cwd)
	if err != nil {
		return fail(state.RepoNotFoundError, err)
	}
	repo, err := git.ResolveRepo(ctx, cwd)
	if err != nil {
		return fail(state.RepoNotFoundError, err)
	}
	log.Debug("resolved repository", "root", repo.Root, "gitdir", repo.GitDir)

	backup := opts.Backup
	if backup && !git.HasInitialCommit(ctx, repo.Root) {
		log.Warn("skipping backup because the repository has no initial commit")
		backup = false
	} else if !backup {
		log.Warn("skipping backup because it was disabled; a failed run cannot be reverted")
	}
	rc.SetShouldBackup(backup)

	staged, err := git.StagedFiles(ctx, repo.Root)
	if err != nil {
		return fail(state.StagedFilesError, err)
	}
	if len(staged) == 0 {
		rc.Inc(state.EventNoStagedFiles)
		rc.Print(msgNoStagedFiles)
		return rc, nil
	}
	log.Debug("staged files", "count", len(staged))

	groups, err := config.Groups(ctx, config.GroupOptions{
		Root:       repo.Root,
		Cwd:        cwd,
		ConfigPath: opts.ConfigPath,
		Files:      staged,
	})
	if err != nil {
		return fail(state.ConfigError, err)
	}

	maxArgLength := opts.MaxArgLength
	if maxArgLength == 0 {
		maxArgLength = chunk.DefaultMaxArgLength()
	}
	l := &lifecycle{
		opts:   opts,
		rc:     rc,
		repo:   repo,
		log:    log,
		runner: opts.Runner,
	}
	if l.runner == nil {
		l.runner = &runner.Exec{}
	}
	taskNodes, matched := l.buildTasks(groups, maxArgLength)
	if len(matched) == 0 {
		rc.Inc(state.EventNoTasks)
		rc.Print(msgNoTasks)
		return rc, nil
	}

	release, err := session.AcquireLock(repo.GitDir)
	if err != nil {
		if errors.Is(err, session.ErrLocked) {
			err = erruser.New("Another stagecheck process is running in this repository.", err)
		}
		return fail(state.GitError, err)
	}
	defer release()

	runID := uuid.NewString()
	l.wf = git.NewWorkflow(git.WorkflowOptions{
		Repo:              repo,
		RunID:             runID,
		AllowEmpty:        opts.AllowEmpty,
		MatchedFileChunks: chunk.Files(matched, chunk.Options{MaxArgLength: maxArgLength}),
		Logger:            opts.Logger,
	})
	rec := &session.Record{
		RunID:     runID,
		Label:     l.wf.Label(),
		PatchPath: l.wf.PatchPath(),
		StartedAt: time.Now().UTC(),
		PID:       os.Getpid(),
	}
	if err := session.Save(repo.GitDir, rec); err != nil {
		return fail(state.GitError, err)
	}

	ex := &tasktree.Executor[state.View]{View: rc.View, Observer: opts.Observer}
	_ = ex.Run(ctx, l.tree(taskNodes))

	if !l.leftovers() {
		if err := session.Remove(repo.GitDir); err != nil {
			log.Warn("could not remove run record", "error", err)
		}
	}
	if rc.Failed() {
		return rc, &Error{Context: rc, Err: l.failure()}
	}
	return rc, nil
}

func resolveCwd(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", erruser.New("Could not determine the working directory.", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", erruser.New("Invalid working directory.", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// lifecycle holds what the task tree nodes of one run share.
type lifecycle struct {
	opts   Options
	rc     *state.Context
	repo   git.Repo
	wf     *git.Workflow
	runner runner.Runner
	log    *slog.Logger

	mu         sync.Mutex
	firstErr   error
	restoreErr error
}

func (l *lifecycle) recordErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.firstErr == nil {
		l.firstErr = err
	}
}

// failure returns the error reported to the user. A failed rollback wins
// because it carries the recovery instructions.
func (l *lifecycle) failure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.restoreErr != nil {
		return l.restoreErr
	}
	return l.firstErr
}

// leftovers reports whether the snapshot or patch outlived the run.
func (l *lifecycle) leftovers() bool {
	if l.rc.BackupLabel() != "" {
		return true
	}
	_, err := os.Stat(l.wf.PatchPath())
	return !errors.Is(err, fs.ErrNotExist)
}

// step adapts a Workflow step to a tree node. Git steps ignore cancellation
// so an interrupted run still restores the repository.
func (l *lifecycle) step(fn func(context.Context, *state.Context) error) tasktree.RunFunc {
	return func(ctx context.Context) (string, error) {
		err := fn(context.WithoutCancel(ctx), l.rc)
		if err != nil {
			l.recordErr(err)
		}
		return "", err
	}
}

// tree returns the lifecycle: each step runs after the previous one and
// decides from the current state view whether it applies.
func (l *lifecycle) tree(tasks []*tasktree.Node[state.View]) *tasktree.Node[state.View] {
	return &tasktree.Node[state.View]{
		Concurrency: 1,
		Children: []*tasktree.Node[state.View]{
			{
				Title: "Preparing stagecheck...",
				Run:   l.step(l.wf.Prepare),
			},
			{
				Title:   "Hiding unstaged changes to partially staged files...",
				Enabled: state.HideUnstagedEnabled,
				Run:     l.step(l.wf.HideUnstagedChanges),
			},
			{
				Title:       "Running tasks for staged files...",
				Skip:        state.TasksSkip,
				Children:    tasks,
				Concurrency: l.opts.Concurrency,
			},
			{
				Title: "Applying modifications from tasks...",
				Skip:  state.ApplyModificationsSkip,
				Run:   l.step(l.wf.ApplyModifications),
			},
			{
				Title:   "Restoring unstaged changes to partially staged files...",
				Enabled: state.RestoreUnstagedEnabled,
				Skip:    state.RestoreUnstagedSkip,
				Run:     l.step(l.wf.RestoreUnstagedChanges),
			},
			{
				Title:   "Reverting to original state because of errors...",
				Enabled: state.RestoreOriginalStateEnabled,
				Skip:    state.RestoreOriginalStateSkip,
				Run: func(ctx context.Context) (string, error) {
					err := l.wf.RestoreOriginalState(context.WithoutCancel(ctx), l.rc)
					if err != nil {
						l.mu.Lock()
						l.restoreErr = err
						l.mu.Unlock()
					}
					return "", err
				},
			},
			{
				Title:   "Cleaning up temporary files...",
				Enabled: state.CleanupEnabled,
				Skip:    state.CleanupSkip,
				Run:     l.step(l.wf.Cleanup),
			},
		},
	}
}

// buildTasks returns one node per (group, chunk) and the files matched by
// any task, in staged order without duplicates.
func (l *lifecycle) buildTasks(groups []config.Group, maxArgLength int) ([]*tasktree.Node[state.View], []string) {
	var (
		nodes   []*tasktree.Node[state.View]
		matched []string
		seen    = make(map[string]bool)
		warned  bool
	)
	for _, g := range groups {
		chunks := chunk.Files(g.Files, chunk.Options{MaxArgLength: maxArgLength})
		if len(chunks) > 1 {
			l.rc.Inc(state.EventChunked)
			l.log.Warn("staged files exceed the argument limit; running tasks in chunks",
				"config", g.Config.Path, "chunks", len(chunks))
		}
		for i, files := range chunks {
			for j := range files {
				files[j] = filepath.FromSlash(files[j])
			}
			tasks := match.Generate(g.Config.Entries, g.Config.Dir, files, l.opts.Relative)
			var children []*tasktree.Node[state.View]
			for _, t := range tasks {
				if !warned && hasGitAdd(t.Commands) {
					warned = true
					l.log.Warn("a task runs git add", "pattern", t.Pattern)
					l.rc.Print(msgGitAdd)
				}
				if len(t.Files) == 0 {
					l.rc.Inc(state.EventTaskSkipped)
				}
				children = append(children, l.taskNode(g.Config.Dir, t))
			}
			inTask := matchedFiles(g.Config.Dir, tasks, l.opts.Relative)
			for _, f := range files {
				if !seen[f] && inTask[f] {
					seen[f] = true
					matched = append(matched, f)
				}
			}
			nodes = append(nodes, &tasktree.Node[state.View]{
				Title:       groupTitle(l.repo.Root, g.Config.Path, len(files), i, len(chunks)),
				Skip:        skipWithoutFiles(match.HasFiles(tasks), "no tasks to run"),
				Children:    children,
				Concurrency: l.opts.Concurrency,
				ExitOnError: true,
			})
		}
	}
	return nodes, matched
}

// taskNode runs a task's commands one after another, stopping at the first
// failure.
func (l *lifecycle) taskNode(dir string, t match.Task) *tasktree.Node[state.View] {
	cmds := make([]*tasktree.Node[state.View], 0, len(t.Commands))
	for _, c := range t.Commands {
		cmds = append(cmds, &tasktree.Node[state.View]{
			Title: c,
			Run:   l.command(dir, c, t.Files),
		})
	}
	return &tasktree.Node[state.View]{
		Title:       runner.Title(t.Pattern, len(t.Files)),
		Skip:        skipWithoutFiles(len(t.Files) > 0, "no files"),
		Children:    cmds,
		Concurrency: 1,
		ExitOnError: true,
	}
}

func (l *lifecycle) command(dir, command string, files []string) tasktree.RunFunc {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			l.rc.AddError(state.TaskError)
			err = erruser.New(fmt.Sprintf("Task %q was not started because the run was interrupted.", command), err)
			l.recordErr(err)
			return "", err
		}
		l.rc.Inc(state.EventTaskRun)
		spec := runner.Spec{Command: command, Shell: l.opts.Shell, Dir: dir}
		args := files
		if runner.Program(command) == "git" {
			spec.Dir = l.repo.Root
			args = absolute(dir, files)
		}
		l.log.Debug("running command", "command", command, "dir", spec.Dir, "files", len(args))
		res := l.runner.Run(ctx, spec, args)
		if res.Failed() {
			l.rc.AddError(state.TaskError)
			err := erruser.New(fmt.Sprintf("Task %q failed.", command), res.Err)
			l.recordErr(err)
			return res.Output, err
		}
		return res.Output, nil
	}
}

func hasGitAdd(cmds []string) bool {
	for _, c := range cmds {
		if runner.IsGitAdd(c) {
			return true
		}
	}
	return false
}

// matchedFiles returns the absolute paths of the files held by any task.
func matchedFiles(dir string, tasks []match.Task, relative bool) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tasks {
		for _, f := range t.Files {
			if relative {
				f = filepath.Join(dir, f)
			}
			set[f] = true
		}
	}
	return set
}

func absolute(dir string, files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(dir, f)
		}
		out[i] = f
	}
	return out
}

func skipWithoutFiles(has bool, reason string) func(state.View) string {
	return func(state.View) string {
		if has {
			return ""
		}
		return reason
	}
}

func groupTitle(root, configPath string, files, chunkIdx, chunks int) string {
	name := configPath
	if rel, err := filepath.Rel(root, configPath); err == nil && !strings.HasPrefix(rel, "..") {
		name = filepath.ToSlash(rel)
	}
	title := runner.Title(name, files)
	if chunks > 1 {
		title += fmt.Sprintf(" [chunk %d/%d]", chunkIdx+1, chunks)
	}
	return title
}
