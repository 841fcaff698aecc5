// Package chunk splits file lists into batches whose combined command-line
// length stays under the platform argument limit.
package chunk

import (
	"path/filepath"
	"runtime"
)

// separatorLen is the length of the separator between two arguments.
const separatorLen = 1

// Options configures Files. The zero value yields a single batch of the
// paths as given.
type Options struct {
	// BaseDir resolves relative paths to absolute ones, or is the base for
	// relative paths when Relative is set.
	BaseDir string
	// MaxArgLength bounds the serialized length of each batch. Zero or
	// negative disables chunking.
	MaxArgLength int
	// Relative makes paths relative to BaseDir instead of absolute.
	Relative bool
}

// DefaultMaxArgLength returns half of the platform's argument limit, leaving
// room for the command itself and the environment.
func DefaultMaxArgLength() int {
	return maxArgLengthFor(runtime.GOOS) / 2
}

func maxArgLengthFor(goos string) int {
	switch goos {
	case "darwin":
		return 262144
	case "windows":
		return 8191
	default:
		return 131072
	}
}

// Files returns files split into ordered batches. Each batch's serialized
// length (paths joined by a single space) is at most opts.MaxArgLength, except
// a batch holding one path that alone exceeds it. Paths keep their original
// order and are never split. At least one batch is always returned.
func Files(files []string, opts Options) [][]string {
	normalized := make([]string, len(files))
	for i, f := range files {
		normalized[i] = normalize(f, opts)
	}
	if opts.MaxArgLength <= 0 || len(normalized) == 0 {
		return [][]string{normalized}
	}

	var batches [][]string
	var cur []string
	curLen := 0
	for _, f := range normalized {
		next := len(f)
		if len(cur) > 0 {
			next += curLen + separatorLen
		}
		if len(cur) > 0 && next > opts.MaxArgLength {
			batches = append(batches, cur)
			cur = nil
			next = len(f)
		}
		cur = append(cur, f)
		curLen = next
	}
	return append(batches, cur)
}

// SerializedLength returns the length of files joined by single spaces.
func SerializedLength(files []string) int {
	if len(files) == 0 {
		return 0
	}
	n := (len(files) - 1) * separatorLen
	for _, f := range files {
		n += len(f)
	}
	return n
}

func normalize(path string, opts Options) string {
	if opts.BaseDir != "" {
		switch {
		case opts.Relative && filepath.IsAbs(path):
			if rel, err := filepath.Rel(opts.BaseDir, path); err == nil {
				path = rel
			}
		case !opts.Relative && !filepath.IsAbs(path):
			path = filepath.Join(opts.BaseDir, path)
		}
	}
	return filepath.ToSlash(path)
}
