package git

import (
	"context"
	"path/filepath"
	"strings"

	"stagecheck/cli/internal/erruser"
)

// Repo locates a working tree and its git directory. For linked worktrees
// GitDir is the per-worktree directory under the main repository's .git.
type Repo struct {
	Root   string // absolute path of the top-level working directory
	GitDir string // absolute path of the git directory
}

// ResolveRepo returns the repository containing dir. Returns an error if dir
// is not inside a git working tree.
func ResolveRepo(ctx context.Context, dir string) (Repo, error) {
	out, err := Exec(ctx, dir, "rev-parse", "--show-toplevel", "--absolute-git-dir")
	if err != nil {
		return Repo{}, erruser.New("This directory is not inside a Git repository.", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] == "" {
		return Repo{}, erruser.New("This directory is not inside a Git repository.", nil)
	}
	root, err := filepath.Abs(strings.TrimSpace(lines[0]))
	if err != nil {
		return Repo{}, erruser.New("Could not resolve repository root.", err)
	}
	gitDir, err := filepath.Abs(strings.TrimSpace(lines[1]))
	if err != nil {
		return Repo{}, erruser.New("Could not resolve git directory.", err)
	}
	return Repo{Root: root, GitDir: gitDir}, nil
}

// HasInitialCommit reports whether HEAD points at a commit.
func HasInitialCommit(ctx context.Context, root string) bool {
	_, err := Exec(ctx, root, "log", "-1")
	return err == nil
}

// StagedFiles returns absolute paths of files added, copied, modified or
// renamed in the index relative to HEAD. Deleted files are excluded since no
// task can run on them.
func StagedFiles(ctx context.Context, root string) ([]string, error) {
	out, err := Exec(ctx, root, "diff", "--staged", "--diff-filter=ACMR", "--name-only", "-z")
	if err != nil {
		return nil, erruser.New("Could not get the list of staged files.", err)
	}
	rel := splitNUL(out)
	files := make([]string, 0, len(rel))
	for _, f := range rel {
		files = append(files, filepath.Join(root, filepath.FromSlash(f)))
	}
	return files, nil
}

// ListFiles returns repository-relative paths of tracked files and untracked
// files that are not ignored.
func ListFiles(ctx context.Context, root string) ([]string, error) {
	out, err := Exec(ctx, root, "ls-files", "-z", "--full-name", "--cached", "--others", "--exclude-standard")
	if err != nil {
		return nil, erruser.New("Could not list repository files.", err)
	}
	return splitNUL(out), nil
}

// DeletedFiles returns repository-relative paths of tracked files that are
// missing from the working tree.
func DeletedFiles(ctx context.Context, root string) ([]string, error) {
	out, err := Exec(ctx, root, "ls-files", "-z", "--full-name", "--deleted")
	if err != nil {
		return nil, err
	}
	return splitNUL(out), nil
}

// HasStagedChanges reports whether the index differs from HEAD.
func HasStagedChanges(ctx context.Context, root string) (bool, error) {
	out, err := Exec(ctx, root, "diff", "--staged", "--name-only", "-z")
	if err != nil {
		return false, err
	}
	return out != "", nil
}
