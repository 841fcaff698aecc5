package git

import (
	"context"
	"fmt"
)

// StatusEntry is one record of `git status --porcelain -z`.
type StatusEntry struct {
	Index    byte   // index status column (X)
	Worktree byte   // working tree status column (Y)
	Path     string // repository-relative path; the new path for renames
	OrigPath string // source path of a rename or copy, else ""
}

// PartiallyStaged reports whether the entry has both staged and unstaged
// changes. Untracked and ignored entries never qualify.
func (e StatusEntry) PartiallyStaged() bool {
	if e.Index == ' ' || e.Worktree == ' ' {
		return false
	}
	return e.Index != '?' && e.Worktree != '?' && e.Index != '!' && e.Worktree != '!'
}

// Status returns the porcelain status of tracked files in root.
func Status(ctx context.Context, root string) ([]StatusEntry, error) {
	out, err := Exec(ctx, root, "status", "--porcelain", "-z", "--untracked-files=no")
	if err != nil {
		return nil, err
	}
	return ParseStatus(out)
}

// ParseStatus parses porcelain v1 output produced with -z. Each entry is
// "XY path" followed by NUL; renames and copies carry the source path as the
// next NUL-terminated field.
func ParseStatus(out string) ([]StatusEntry, error) {
	fields := splitNUL(out)
	var entries []StatusEntry
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if len(f) < 4 || f[2] != ' ' {
			return nil, fmt.Errorf("git status: malformed entry %q", f)
		}
		e := StatusEntry{Index: f[0], Worktree: f[1], Path: f[3:]}
		if e.Index == 'R' || e.Index == 'C' {
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("git status: missing source path for %q", e.Path)
			}
			i++
			e.OrigPath = fields[i]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PartiallyStagedFiles returns the entries of root that have both staged and
// unstaged changes.
func PartiallyStagedFiles(ctx context.Context, root string) ([]StatusEntry, error) {
	entries, err := Status(ctx, root)
	if err != nil {
		return nil, err
	}
	var out []StatusEntry
	for _, e := range entries {
		if e.PartiallyStaged() {
			out = append(out, e)
		}
	}
	return out, nil
}

// statusPaths flattens entries to paths. With sources set, rename and copy
// sources are included after their targets.
func statusPaths(entries []StatusEntry, sources bool) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Path)
		if sources && e.OrigPath != "" {
			out = append(out, e.OrigPath)
		}
	}
	return out
}
