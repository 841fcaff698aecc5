package git

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"stagecheck/cli/internal/state"
)

// setupPartial commits a five-line file, stages a change to its first line
// and leaves an unstaged change to its last line.
func setupPartial(t *testing.T) (Repo, string) {
	t.Helper()
	dir := initRepo(t)
	writeFile(t, dir, "file.txt", "a\nb\nc\nd\ne\n")
	run(t, dir, "git", "add", "file.txt")
	run(t, dir, "git", "commit", "-m", "add file")
	writeFile(t, dir, "file.txt", "A\nb\nc\nd\ne\n")
	run(t, dir, "git", "add", "file.txt")
	writeFile(t, dir, "file.txt", "A\nb\nc\nd\nE\n")
	repo, err := ResolveRepo(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	return repo, filepath.Join(repo.Root, "file.txt")
}

func newWorkflow(t *testing.T, repo Repo, files ...string) *Workflow {
	t.Helper()
	return NewWorkflow(WorkflowOptions{
		Repo:              repo,
		RunID:             "test-run",
		MatchedFileChunks: [][]string{files},
	})
}

func TestWorkflow_partialStagingIsolatedAndRestored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, file := setupPartial(t)
	rc := newRunContext(true)
	w := newWorkflow(t, repo, file)

	if err := w.Prepare(ctx, rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !rc.View().HasPartiallyStagedFiles {
		t.Fatal("partially staged file not detected")
	}
	if rc.BackupLabel() != w.Label() {
		t.Errorf("BackupLabel = %q, want %q", rc.BackupLabel(), w.Label())
	}
	if err := w.HideUnstagedChanges(ctx, rc); err != nil {
		t.Fatalf("HideUnstagedChanges: %v", err)
	}
	if got := readFile(t, repo.Root, "file.txt"); got != "A\nb\nc\nd\ne\n" {
		t.Errorf("task sees %q, want staged content only", got)
	}
	if !exists(t, repo.GitDir, PatchFilename) {
		t.Fatal("patch not written")
	}

	// the task edits a line away from the unstaged hunk
	writeFile(t, repo.Root, "file.txt", "A\nb\nC\nd\ne\n")

	if err := w.ApplyModifications(ctx, rc); err != nil {
		t.Fatalf("ApplyModifications: %v", err)
	}
	if err := w.RestoreUnstagedChanges(ctx, rc); err != nil {
		t.Fatalf("RestoreUnstagedChanges: %v", err)
	}
	if err := w.Cleanup(ctx, rc); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if got := stagedContent(t, repo.Root, "file.txt"); got != "A\nb\nC\nd\ne" {
		t.Errorf("index = %q, want task edit on staged content", got)
	}
	if got := readFile(t, repo.Root, "file.txt"); got != "A\nb\nC\nd\nE\n" {
		t.Errorf("worktree = %q, want task edit plus unstaged change", got)
	}
	if exists(t, repo.GitDir, PatchFilename) {
		t.Error("patch left behind")
	}
	if _, err := FindSnapshot(ctx, repo.Root, w.Label()); err == nil {
		t.Error("snapshot not dropped")
	}
	if rc.Failed() {
		t.Errorf("errors = %v", rc.Errors())
	}
}

func TestWorkflow_conflictKeepsPatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, file := setupPartial(t)
	rc := newRunContext(true)
	w := newWorkflow(t, repo, file)

	if err := w.Prepare(ctx, rc); err != nil {
		t.Fatal(err)
	}
	if err := w.HideUnstagedChanges(ctx, rc); err != nil {
		t.Fatal(err)
	}
	// the task rewrites the line the unstaged change touches
	writeFile(t, repo.Root, "file.txt", "A\nb\nc\nd\nx\n")
	if err := w.ApplyModifications(ctx, rc); err != nil {
		t.Fatal(err)
	}
	if err := w.RestoreUnstagedChanges(ctx, rc); err == nil {
		t.Fatal("RestoreUnstagedChanges: expected conflict error")
	}
	if !rc.HasError(state.RestoreUnstagedChangesError) {
		t.Errorf("errors = %v, want RestoreUnstagedChangesError", rc.Errors())
	}
	if out := strings.Join(rc.Output(), "\n"); !strings.Contains(out, "restored from the backup") {
		t.Errorf("output = %q, want the backup named", out)
	}
	if err := w.Cleanup(ctx, rc); err != nil {
		t.Fatal(err)
	}
	if !exists(t, repo.GitDir, PatchFilename) {
		t.Error("patch removed after conflict")
	}
	if got := readFile(t, repo.Root, "file.txt"); got != "A\nb\nc\nd\nx\n" {
		t.Errorf("worktree = %q, want task result untouched", got)
	}
}

func TestWorkflow_conflictWithoutBackupReportsPatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, file := setupPartial(t)
	rc := newRunContext(false)
	w := newWorkflow(t, repo, file)

	if err := w.Prepare(ctx, rc); err != nil {
		t.Fatal(err)
	}
	if err := w.HideUnstagedChanges(ctx, rc); err != nil {
		t.Fatal(err)
	}
	writeFile(t, repo.Root, "file.txt", "A\nb\nc\nd\nx\n")
	if err := w.ApplyModifications(ctx, rc); err != nil {
		t.Fatal(err)
	}
	if err := w.RestoreUnstagedChanges(ctx, rc); err == nil {
		t.Fatal("RestoreUnstagedChanges: expected conflict error")
	}
	if out := strings.Join(rc.Output(), "\n"); !strings.Contains(out, "The patch is kept at "+w.PatchPath()) {
		t.Errorf("output = %q, want the patch path", out)
	}
	if !exists(t, repo.GitDir, PatchFilename) {
		t.Error("patch removed after conflict")
	}
}

func TestWorkflow_restoreOriginalState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, file := setupPartial(t)
	writeFile(t, repo.Root, "untracked.txt", "keep\n")
	wantStatus := porcelain(t, repo.Root)
	rc := newRunContext(true)
	w := newWorkflow(t, repo, file)

	if err := w.Prepare(ctx, rc); err != nil {
		t.Fatal(err)
	}
	if err := w.HideUnstagedChanges(ctx, rc); err != nil {
		t.Fatal(err)
	}
	writeFile(t, repo.Root, "file.txt", "broken\n")
	rc.AddError(state.TaskError)

	if err := w.RestoreOriginalState(ctx, rc); err != nil {
		t.Fatalf("RestoreOriginalState: %v", err)
	}
	if err := w.Cleanup(ctx, rc); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if got := readFile(t, repo.Root, "file.txt"); got != "A\nb\nc\nd\nE\n" {
		t.Errorf("worktree = %q, want original", got)
	}
	if got := stagedContent(t, repo.Root, "file.txt"); got != "A\nb\nc\nd\ne" {
		t.Errorf("index = %q, want original staged content", got)
	}
	if got := porcelain(t, repo.Root); got != wantStatus {
		t.Errorf("status = %q, want %q", got, wantStatus)
	}
	if got := readFile(t, repo.Root, "untracked.txt"); got != "keep\n" {
		t.Errorf("untracked.txt = %q", got)
	}
	if exists(t, repo.GitDir, PatchFilename) {
		t.Error("patch left behind")
	}
	if rc.View().SnapshotCreated {
		t.Error("snapshot still marked as created")
	}
	if _, err := FindSnapshot(ctx, repo.Root, w.Label()); err == nil {
		t.Error("snapshot not dropped")
	}
}

func TestWorkflow_restoreOriginalStateMissingSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, file := setupPartial(t)
	rc := newRunContext(true)
	w := newWorkflow(t, repo, file)
	if err := w.Prepare(ctx, rc); err != nil {
		t.Fatal(err)
	}
	run(t, repo.Root, "git", "stash", "drop")

	if err := w.RestoreOriginalState(ctx, rc); err == nil {
		t.Fatal("RestoreOriginalState: expected error")
	}
	if !rc.HasError(state.RestoreOriginalStateError) {
		t.Errorf("errors = %v, want RestoreOriginalStateError", rc.Errors())
	}
}

func TestWorkflow_preventsEmptyCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := initRepo(t)
	writeFile(t, dir, "README.md", "# readme  \n")
	run(t, dir, "git", "add", "README.md")
	repo, err := ResolveRepo(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(repo.Root, "README.md")

	for _, allowEmpty := range []bool{false, true} {
		rc := newRunContext(false)
		w := NewWorkflow(WorkflowOptions{Repo: repo, RunID: "empty", AllowEmpty: allowEmpty, MatchedFileChunks: [][]string{{file}}})
		if err := w.Prepare(ctx, rc); err != nil {
			t.Fatal(err)
		}
		// the task strips the only staged change
		writeFile(t, repo.Root, "README.md", "# readme\n")
		err := w.ApplyModifications(ctx, rc)
		if allowEmpty {
			if err != nil || rc.Failed() {
				t.Errorf("allowEmpty: err = %v, errors = %v", err, rc.Errors())
			}
			continue
		}
		if err == nil || !rc.HasError(state.ApplyEmptyCommitError) {
			t.Errorf("err = %v, errors = %v, want ApplyEmptyCommitError", err, rc.Errors())
		}
		if rc.Count(state.EventNoChanges) != 0 {
			t.Error("task change not detected")
		}
	}
}

func TestWorkflow_applyOnlyMatchedFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := initRepo(t)
	writeFile(t, dir, "a.js", "a\n")
	writeFile(t, dir, "other.txt", "o\n")
	run(t, dir, "git", "add", ".")
	run(t, dir, "git", "commit", "-m", "files")
	writeFile(t, dir, "a.js", "a2\n")
	run(t, dir, "git", "add", "a.js")
	repo, err := ResolveRepo(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	rc := newRunContext(false)
	w := newWorkflow(t, repo, filepath.Join(repo.Root, "a.js"))
	if err := w.Prepare(ctx, rc); err != nil {
		t.Fatal(err)
	}
	writeFile(t, repo.Root, "a.js", "a3\n")
	writeFile(t, repo.Root, "other.txt", "touched\n")
	if err := w.ApplyModifications(ctx, rc); err != nil {
		t.Fatal(err)
	}
	if got := stagedContent(t, repo.Root, "a.js"); got != "a3" {
		t.Errorf("a.js staged = %q, want a3", got)
	}
	if got := stagedContent(t, repo.Root, "other.txt"); got != "o" {
		t.Errorf("other.txt staged = %q, want unchanged", got)
	}
}

func TestWorkflow_noBackupSkipsSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, file := setupPartial(t)
	rc := newRunContext(false)
	w := newWorkflow(t, repo, file)
	if err := w.Prepare(ctx, rc); err != nil {
		t.Fatal(err)
	}
	if rc.View().SnapshotCreated {
		t.Error("snapshot created without backup")
	}
	if list, _ := Snapshots(ctx, repo.Root, LabelPrefix); len(list) != 0 {
		t.Errorf("Snapshots = %v, want none", list)
	}
}

func TestWorkflow_cleanupIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, file := setupPartial(t)
	rc := newRunContext(true)
	w := newWorkflow(t, repo, file)
	if err := w.Prepare(ctx, rc); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := w.Cleanup(ctx, rc); err != nil {
			t.Fatalf("Cleanup #%d: %v", i+1, err)
		}
	}
	if got := readFile(t, repo.Root, "file.txt"); got != "A\nb\nc\nd\nE\n" {
		t.Errorf("worktree = %q, want untouched", got)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, file := setupPartial(t)
	rc := newRunContext(true)
	w := newWorkflow(t, repo, file)
	if err := w.Prepare(ctx, rc); err != nil {
		t.Fatal(err)
	}
	if err := w.HideUnstagedChanges(ctx, rc); err != nil {
		t.Fatal(err)
	}
	// the process dies here
	writeFile(t, repo.Root, "file.txt", "half formatted\n")

	snap, err := Recover(ctx, repo, "")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if snap.Label != w.Label() {
		t.Errorf("recovered %q, want %q", snap.Label, w.Label())
	}
	if got := readFile(t, repo.Root, "file.txt"); got != "A\nb\nc\nd\nE\n" {
		t.Errorf("worktree = %q, want original", got)
	}
	if exists(t, repo.GitDir, PatchFilename) {
		t.Error("patch left behind")
	}
	if _, err := Recover(ctx, repo, ""); err == nil {
		t.Error("second Recover: expected ErrSnapshotNotFound")
	}
}
