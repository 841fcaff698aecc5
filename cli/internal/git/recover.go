package git

import (
	"context"
	"fmt"
	"path/filepath"
)

// Recover restores a snapshot left behind by an interrupted or failed run and
// drops it. With an empty label the newest stagecheck snapshot is used. A
// leftover unstaged patch is removed since the snapshot already contains those
// changes.
func Recover(ctx context.Context, repo Repo, label string) (Snapshot, error) {
	var snap Snapshot
	if label != "" {
		s, err := FindSnapshot(ctx, repo.Root, label)
		if err != nil {
			return Snapshot{}, err
		}
		snap = s
	} else {
		list, err := Snapshots(ctx, repo.Root, LabelPrefix)
		if err != nil {
			return Snapshot{}, err
		}
		if len(list) == 0 {
			return Snapshot{}, ErrSnapshotNotFound
		}
		snap = list[0]
	}
	if err := RestoreSnapshot(ctx, repo.Root, snap.Hash); err != nil {
		return snap, fmt.Errorf("restore %s: %w", snap.Label, err)
	}
	if err := removeIfExists(filepath.Join(repo.GitDir, PatchFilename)); err != nil {
		return snap, err
	}
	if err := DropSnapshot(ctx, repo.Root, snap.Label); err != nil {
		return snap, fmt.Errorf("drop %s: %w", snap.Label, err)
	}
	return snap, nil
}
