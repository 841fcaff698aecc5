package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LabelPrefix starts the stash message of every backup snapshot. The full
// label appends the run id so concurrent leftovers stay distinguishable.
const LabelPrefix = "stagecheck automatic backup"

// ErrSnapshotNotFound indicates no stash entry carries the requested label.
var ErrSnapshotNotFound = errors.New("backup snapshot not found")

// Snapshot is a stash entry created by stagecheck.
type Snapshot struct {
	Ref   string // stash@{N}; shifts when other entries are pushed or dropped
	Hash  string // commit id of the stash entry; stable
	Label string // stash message
}

// Label returns the snapshot label for runID.
func Label(runID string) string {
	return LabelPrefix + " " + runID
}

// CreateSnapshot records the current index and working tree as a stash entry
// labelled label, without touching either and without moving any branch.
// Returns the stash commit id.
func CreateSnapshot(ctx context.Context, root, label string) (string, error) {
	out, err := Exec(ctx, root, "stash", "create")
	if err != nil {
		return "", err
	}
	hash := strings.TrimSpace(out)
	if hash == "" {
		return "", errors.New("git stash create: no local changes to back up")
	}
	if _, err := Exec(ctx, root, "stash", "store", "--quiet", "--message", label, hash); err != nil {
		return "", err
	}
	return hash, nil
}

// Snapshots returns stash entries whose label starts with prefix, newest first.
func Snapshots(ctx context.Context, root, prefix string) ([]Snapshot, error) {
	out, err := Exec(ctx, root, "stash", "list", "-z", "--format=%gd%x09%H%x09%gs")
	if err != nil {
		return nil, err
	}
	var list []Snapshot
	for _, line := range splitNUL(out) {
		parts := strings.SplitN(strings.TrimSpace(line), "\t", 3)
		if len(parts) != 3 {
			continue
		}
		if !strings.HasPrefix(parts[2], prefix) {
			continue
		}
		list = append(list, Snapshot{Ref: parts[0], Hash: parts[1], Label: parts[2]})
	}
	return list, nil
}

// FindSnapshot returns the stash entry labelled exactly label.
func FindSnapshot(ctx context.Context, root, label string) (Snapshot, error) {
	list, err := Snapshots(ctx, root, label)
	if err != nil {
		return Snapshot{}, err
	}
	for _, s := range list {
		if s.Label == label {
			return s, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %q", ErrSnapshotNotFound, label)
}

// DropSnapshot removes the stash entry labelled label. A missing entry is not
// an error.
func DropSnapshot(ctx context.Context, root, label string) error {
	s, err := FindSnapshot(ctx, root, label)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = Exec(ctx, root, "stash", "drop", "--quiet", s.Ref)
	return err
}

// RestoreSnapshot makes the index and working tree match the snapshot commit
// hash exactly. The snapshot is never replayed as a merge: a merge can bring
// back a file that the original index deleted or renamed away when that file
// is still unchanged in the snapshot's base tree. Instead the working tree is
// reset to the snapshot's tree, which removes tracked paths it does not
// contain, and the index is then reset to the tree of the snapshot's index
// commit. Untracked files are left alone.
func RestoreSnapshot(ctx context.Context, root, hash string) error {
	if _, err := Exec(ctx, root, "read-tree", "--reset", "-u", hash+"^{tree}"); err != nil {
		return fmt.Errorf("restore working tree: %w", err)
	}
	if _, err := Exec(ctx, root, "read-tree", "--reset", hash+"^2^{tree}"); err != nil {
		return fmt.Errorf("restore index: %w", err)
	}
	if _, err := Exec(ctx, root, "update-index", "-q", "--refresh"); err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}
	return nil
}
