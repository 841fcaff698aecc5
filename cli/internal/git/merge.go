package git

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// mergeStateFiles describe an in-progress merge. Snapshot commands can drop
// them, so they are saved before and written back after.
var mergeStateFiles = []string{"MERGE_HEAD", "MERGE_MODE", "MERGE_MSG"}

// mergeState holds the contents of the merge state files that existed.
type mergeState map[string][]byte

func backupMergeState(gitDir string) (mergeState, error) {
	st := make(mergeState)
	for _, name := range mergeStateFiles {
		data, err := os.ReadFile(filepath.Join(gitDir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("back up %s: %w", name, err)
		}
		st[name] = data
	}
	return st, nil
}

func (st mergeState) restore(gitDir string) error {
	for name, data := range st {
		if err := os.WriteFile(filepath.Join(gitDir, name), data, 0644); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
	}
	return nil
}
