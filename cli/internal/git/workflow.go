package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"stagecheck/cli/internal/erruser"
	"stagecheck/cli/internal/state"
)

// PatchFilename is the unstaged-changes patch written to the git directory.
const PatchFilename = "stagecheck_unstaged.patch"

// diffArgs produce a patch that git apply can replay exactly, including
// binary files, whatever the user's diff configuration.
var diffArgs = []string{
	"--binary",
	"--unified=0",
	"--no-color",
	"--no-ext-diff",
	"--src-prefix=a/",
	"--dst-prefix=b/",
	"--patch",
	"--submodule=short",
}

var applyArgs = []string{"-v", "--whitespace=nowarn", "--recount", "--unidiff-zero"}

// WorkflowOptions configures NewWorkflow.
type WorkflowOptions struct {
	Repo Repo
	// RunID distinguishes this run's snapshot label from leftovers.
	RunID string
	// AllowEmpty permits a commit whose staged changes were all reverted by tasks.
	AllowEmpty bool
	// MatchedFileChunks are the staged files matched by any task, chunked to
	// fit the argument limit. Only these are re-staged after tasks run.
	MatchedFileChunks [][]string
	Logger            *slog.Logger
}

// Workflow owns every destructive git operation of a run. Its steps must be
// called in order, each at most once: Prepare, HideUnstagedChanges,
// ApplyModifications, RestoreUnstagedChanges, RestoreOriginalState, Cleanup.
// A failing step records an error kind in the state.Context and returns an
// error; it never leaves later steps unable to run.
type Workflow struct {
	repo          Repo
	label         string
	allowEmpty    bool
	matchedChunks [][]string
	log           *slog.Logger

	partiallyStaged []StatusEntry
	deletedFiles    []string
	merge           mergeState
}

// NewWorkflow returns a Workflow for one run.
func NewWorkflow(opts WorkflowOptions) *Workflow {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Workflow{
		repo:          opts.Repo,
		label:         Label(opts.RunID),
		allowEmpty:    opts.AllowEmpty,
		matchedChunks: opts.MatchedFileChunks,
		log:           log.With("component", "git"),
	}
}

// Label returns the discoverable label of this run's snapshot.
func (w *Workflow) Label() string { return w.label }

// PatchPath returns the absolute path of the unstaged-changes patch.
func (w *Workflow) PatchPath() string {
	return filepath.Join(w.repo.GitDir, PatchFilename)
}

func (w *Workflow) exec(ctx context.Context, args ...string) (string, error) {
	w.log.Debug("exec", "args", args)
	return Exec(ctx, w.repo.Root, args...)
}

// Prepare detects partially staged files and, when rc.ShouldBackup, stores a
// snapshot of the index and working tree in the stash list under w.Label().
func (w *Workflow) Prepare(ctx context.Context, rc *state.Context) error {
	partial, err := PartiallyStagedFiles(ctx, w.repo.Root)
	if err != nil {
		return w.fail(rc, err, state.GitError)
	}
	w.partiallyStaged = partial
	rc.SetHasPartiallyStagedFiles(len(partial) > 0)
	w.log.Debug("partially staged files", "count", len(partial))

	if !rc.ShouldBackup() {
		return nil
	}

	w.merge, err = backupMergeState(w.repo.GitDir)
	if err != nil {
		return w.fail(rc, err, state.GitError)
	}
	w.deletedFiles, err = DeletedFiles(ctx, w.repo.Root)
	if err != nil {
		return w.fail(rc, err, state.GitError)
	}
	hash, err := CreateSnapshot(ctx, w.repo.Root, w.label)
	if err != nil {
		return w.fail(rc, err, state.GitError)
	}
	rc.SetSnapshot(w.label)
	w.log.Debug("created backup snapshot", "label", w.label, "hash", hash)

	if err := w.merge.restore(w.repo.GitDir); err != nil {
		return w.fail(rc, err, state.GitError)
	}
	if err := w.removeResurrected(); err != nil {
		return w.fail(rc, err, state.GitError)
	}
	return nil
}

// HideUnstagedChanges saves the unstaged changes of partially staged files to
// PatchPath and checks out their staged content, so tasks only see what will
// be committed.
func (w *Workflow) HideUnstagedChanges(ctx context.Context, rc *state.Context) error {
	if len(w.partiallyStaged) == 0 {
		return nil
	}
	args := append([]string{"diff"}, diffArgs...)
	args = append(args, "--output", w.PatchPath(), "--")
	args = append(args, statusPaths(w.partiallyStaged, true)...)
	if _, err := w.exec(ctx, args...); err != nil {
		return w.fail(rc, err, state.GitError, state.HideUnstagedChangesError)
	}
	rc.SetPatchWritten(true)

	args = append([]string{"checkout", "--force", "--"}, statusPaths(w.partiallyStaged, false)...)
	if _, err := w.exec(ctx, args...); err != nil {
		return w.fail(rc, err, state.GitError, state.HideUnstagedChangesError)
	}
	return nil
}

// ApplyModifications stages the task edits to matched files. Other files
// touched by tasks are left unstaged. Records ApplyEmptyCommitError when the
// tasks reverted every staged change and empty commits are not allowed.
func (w *Workflow) ApplyModifications(ctx context.Context, rc *state.Context) error {
	changed := false
	for _, files := range w.matchedChunks {
		if len(files) == 0 {
			continue
		}
		out, err := w.exec(ctx, append([]string{"diff", "--name-only", "-z", "--"}, files...)...)
		if err != nil {
			return w.fail(rc, err, state.TaskError, state.GitError)
		}
		if out != "" {
			changed = true
		}
		if _, err := w.exec(ctx, append([]string{"add", "--"}, files...)...); err != nil {
			return w.fail(rc, err, state.TaskError, state.GitError)
		}
	}
	if !changed {
		rc.Inc(state.EventNoChanges)
	}

	staged, err := HasStagedChanges(ctx, w.repo.Root)
	if err != nil {
		return w.fail(rc, err, state.TaskError, state.GitError)
	}
	if !staged && !w.allowEmpty {
		rc.AddError(state.ApplyEmptyCommitError)
		rc.Print("Prevented an empty git commit: tasks reverted all staged changes. Use --allow-empty to commit anyway.")
		return erruser.New("Prevented an empty git commit.", nil)
	}
	return nil
}

// RestoreUnstagedChanges reapplies the hidden unstaged changes on top of the
// possibly modified working tree. git apply is all-or-nothing, so on conflict
// nothing is applied and RestoreUnstagedChangesError is recorded. The patch
// stays at PatchPath until RestoreOriginalState rolls back from the snapshot;
// without a snapshot it is kept for the user.
func (w *Workflow) RestoreUnstagedChanges(ctx context.Context, rc *state.Context) error {
	args := append([]string{"apply"}, applyArgs...)
	args = append(args, w.PatchPath())
	if _, err := w.exec(ctx, args...); err != nil {
		rc.AddError(state.RestoreUnstagedChangesError)
		if rc.BackupLabel() != "" {
			rc.Print("Unstaged changes could not be restored due to a conflict with task modifications. They will be restored from the backup.")
		} else {
			rc.Print(fmt.Sprintf("Unstaged changes could not be restored due to a conflict with task modifications. The patch is kept at %s.", w.PatchPath()))
		}
		return erruser.New("Could not restore unstaged changes.", err)
	}
	if err := removeIfExists(w.PatchPath()); err != nil {
		w.log.Warn("could not remove patch", "path", w.PatchPath(), "error", err)
	}
	rc.SetPatchWritten(false)
	return nil
}

// RestoreOriginalState discards every change made since Prepare by resetting
// the index and working tree to the snapshot, then drops the snapshot. On
// failure the snapshot is kept as a manual recovery point.
func (w *Workflow) RestoreOriginalState(ctx context.Context, rc *state.Context) error {
	if err := w.restoreOriginalState(ctx); err != nil {
		rc.AddError(state.RestoreOriginalStateError)
		rc.Print(RecoveryInstructions(w.label))
		return erruser.WithHint("Could not revert to the original state.", err, RecoveryInstructions(w.label))
	}
	rc.SetSnapshot("")
	rc.SetPatchWritten(false)
	return nil
}

func (w *Workflow) restoreOriginalState(ctx context.Context) error {
	snap, err := FindSnapshot(ctx, w.repo.Root, w.label)
	if err != nil {
		return err
	}
	if err := RestoreSnapshot(ctx, w.repo.Root, snap.Hash); err != nil {
		return err
	}
	if err := w.merge.restore(w.repo.GitDir); err != nil {
		return err
	}
	if err := w.removeResurrected(); err != nil {
		return err
	}
	if err := removeIfExists(w.PatchPath()); err != nil {
		return err
	}
	if _, err := w.exec(ctx, "stash", "drop", "--quiet", snap.Ref); err != nil {
		return err
	}
	return nil
}

// Cleanup drops the snapshot if it still exists and removes a stray patch.
// A patch kept after RestoreUnstagedChangesError is left in place. Safe to
// call more than once.
func (w *Workflow) Cleanup(ctx context.Context, rc *state.Context) error {
	if err := DropSnapshot(ctx, w.repo.Root, w.label); err != nil {
		return w.fail(rc, err, state.GitError)
	}
	rc.SetSnapshot("")
	if !rc.HasError(state.RestoreUnstagedChangesError) {
		if err := removeIfExists(w.PatchPath()); err != nil {
			return w.fail(rc, err, state.GitError)
		}
		rc.SetPatchWritten(false)
	}
	return nil
}

// removeResurrected deletes files that were missing from the working tree at
// Prepare but have reappeared.
func (w *Workflow) removeResurrected() error {
	for _, f := range w.deletedFiles {
		p := filepath.Join(w.repo.Root, filepath.FromSlash(f))
		if err := removeIfExists(p); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) fail(rc *state.Context, err error, kinds ...state.Kind) error {
	for _, k := range kinds {
		rc.AddError(k)
	}
	w.log.Debug("step failed", "error", err)
	return err
}

// RecoveryInstructions tells the user how to get back the state preserved in
// the snapshot labelled label.
func RecoveryInstructions(label string) string {
	return fmt.Sprintf("Your original changes are preserved in the stash entry %q.\n"+
		"Run `stagecheck recover` to restore them, or find the entry with `git stash list`.", label)
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
