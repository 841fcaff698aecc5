// Package state holds the run context threaded through every step of a
// stagecheck run: the set of error kinds observed, event counters, user-facing
// output and the predicates derived at startup.
//
// Context is safe for concurrent use; tasks running in parallel record errors
// and events on the same value. Predicates never read a Context directly: they
// receive a View, an immutable copy taken right before the step runs.
package state

import (
	"sort"
	"sync"
)

// Kind identifies a class of failure recorded during a run.
type Kind string

// Error kinds. The first group is fatal before any repository mutation.
const (
	RepoNotFoundError           Kind = "RepoNotFoundError"
	StagedFilesError            Kind = "StagedFilesError"
	ConfigError                 Kind = "ConfigError"
	GitError                    Kind = "GitError"
	HideUnstagedChangesError    Kind = "HideUnstagedChangesError"
	TaskError                   Kind = "TaskError"
	ApplyEmptyCommitError       Kind = "ApplyEmptyCommitError"
	RestoreUnstagedChangesError Kind = "RestoreUnstagedChangesError"
	RestoreOriginalStateError   Kind = "RestoreOriginalStateError"
)

// Event names counted in Context.
const (
	EventNoStagedFiles = "no-staged-files"
	EventNoTasks       = "no-tasks"
	EventTaskRun       = "task-run"
	EventTaskSkipped   = "task-skipped"
	EventNoChanges     = "no-changes"
	EventChunked       = "chunked"
)

// Context is the mutable record of one run.
type Context struct {
	mu sync.Mutex

	quiet  bool
	errors map[Kind]struct{}
	events map[string]int
	output []string

	shouldBackup            bool
	hasPartiallyStagedFiles bool
	snapshotCreated         bool
	patchWritten            bool
	backupLabel             string
}

// New returns an empty Context.
func New(quiet bool) *Context {
	return &Context{
		quiet:  quiet,
		errors: make(map[Kind]struct{}),
		events: make(map[string]int),
	}
}

// Quiet reports whether user-facing output is suppressed.
func (c *Context) Quiet() bool { return c.quiet }

// AddError records kind. Recording the same kind twice is a no-op.
func (c *Context) AddError(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[kind] = struct{}{}
}

// HasError reports whether kind was recorded.
func (c *Context) HasError(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.errors[kind]
	return ok
}

// Errors returns the recorded kinds in sorted order.
func (c *Context) Errors() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKinds(c.errors)
}

// Failed reports whether any error was recorded.
func (c *Context) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors) > 0
}

// Inc increments the counter for event.
func (c *Context) Inc(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[event]++
}

// Count returns the counter for event.
func (c *Context) Count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[event]
}

// Print appends a user-facing message unless the context is quiet.
func (c *Context) Print(msg string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = append(c.output, msg)
}

// Output returns the user-facing messages in the order they were added.
func (c *Context) Output() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.output...)
}

// SetShouldBackup records whether a backup snapshot is taken this run.
func (c *Context) SetShouldBackup(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldBackup = v
}

// ShouldBackup reports whether a backup snapshot is taken this run.
func (c *Context) ShouldBackup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldBackup
}

// SetHasPartiallyStagedFiles records whether any staged file also has
// unstaged changes.
func (c *Context) SetHasPartiallyStagedFiles(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasPartiallyStagedFiles = v
}

// SetSnapshot records that the backup snapshot exists under label. An empty
// label marks it as consumed.
func (c *Context) SetSnapshot(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backupLabel = label
	c.snapshotCreated = label != ""
}

// BackupLabel returns the label of the live snapshot, or "".
func (c *Context) BackupLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backupLabel
}

// SetPatchWritten records whether the unstaged patch is on disk.
func (c *Context) SetPatchWritten(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patchWritten = v
}

// View returns an immutable snapshot of the fields step predicates read.
func (c *Context) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := make(map[Kind]struct{}, len(c.errors))
	for k := range c.errors {
		errs[k] = struct{}{}
	}
	return View{
		errors:                  errs,
		ShouldBackup:            c.shouldBackup,
		HasPartiallyStagedFiles: c.hasPartiallyStagedFiles,
		SnapshotCreated:         c.snapshotCreated,
		PatchWritten:            c.patchWritten,
		TasksRun:                c.events[EventTaskRun],
	}
}

// View is a point-in-time copy of a Context.
type View struct {
	errors map[Kind]struct{}

	ShouldBackup            bool
	HasPartiallyStagedFiles bool
	SnapshotCreated         bool
	PatchWritten            bool
	TasksRun                int
}

// Has reports whether kind had been recorded when the view was taken.
func (v View) Has(kind Kind) bool {
	_, ok := v.errors[kind]
	return ok
}

// Failed reports whether any error had been recorded.
func (v View) Failed() bool { return len(v.errors) > 0 }

// Errors returns the recorded kinds in sorted order.
func (v View) Errors() []Kind { return sortedKinds(v.errors) }

func sortedKinds(m map[Kind]struct{}) []Kind {
	out := make([]Kind, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
