package state

// Skip reasons shown by the renderer.
const (
	SkippedGitError  = "Skipped because of previous git error."
	SkippedTaskError = "Skipped because of errors from tasks."
	SkippedNoTasks   = "Skipped because no tasks ran."
	SkippedNoBackup  = "Skipped because no backup was created."
	SkippedNoPatch   = "Skipped because no unstaged changes were hidden."
	SkippedRestore   = "Skipped because reverting to the original state failed."
)

// HideUnstagedEnabled reports whether unstaged changes must be hidden.
func HideUnstagedEnabled(v View) bool { return v.HasPartiallyStagedFiles }

// TasksSkip skips running tasks once preparing the repository failed.
func TasksSkip(v View) string {
	if v.Has(GitError) {
		return SkippedGitError
	}
	return ""
}

// ApplyModificationsSkip returns a reason to skip staging task edits, or "".
// Without a backup the edits are always applied since there is nothing to
// revert to.
func ApplyModificationsSkip(v View) string {
	if v.TasksRun == 0 {
		return SkippedNoTasks
	}
	if !v.ShouldBackup {
		return ""
	}
	if v.Has(GitError) {
		return SkippedGitError
	}
	if v.Has(TaskError) {
		return SkippedTaskError
	}
	return ""
}

// RestoreUnstagedEnabled reports whether hidden changes may need restoring.
func RestoreUnstagedEnabled(v View) bool { return v.HasPartiallyStagedFiles }

// RestoreUnstagedSkip returns a reason to skip reapplying the unstaged patch.
func RestoreUnstagedSkip(v View) string {
	if !v.PatchWritten {
		return SkippedNoPatch
	}
	if v.ShouldBackup && v.Has(HideUnstagedChangesError) {
		return SkippedGitError
	}
	return ""
}

// RestoreOriginalStateEnabled reports whether the run must be rolled back.
func RestoreOriginalStateEnabled(v View) bool {
	return v.ShouldBackup && v.Failed() && !v.Has(RestoreOriginalStateError)
}

// RestoreOriginalStateSkip returns a reason to skip the rollback, or "".
func RestoreOriginalStateSkip(v View) string {
	if !v.SnapshotCreated {
		return SkippedNoBackup
	}
	return ""
}

// CleanupEnabled reports whether backup artifacts may need removal.
func CleanupEnabled(v View) bool { return v.ShouldBackup }

// CleanupSkip keeps the snapshot as a recovery point after a failed rollback.
func CleanupSkip(v View) string {
	if v.Has(RestoreOriginalStateError) {
		return SkippedRestore
	}
	return ""
}
