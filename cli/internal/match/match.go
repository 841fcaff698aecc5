// Package match turns a task configuration and a list of staged files into
// tasks: one per configured glob, holding the files it matches.
package match

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Entry is one glob pattern and the commands to run on the files it matches.
type Entry struct {
	Pattern  string
	Commands []string
}

// Task is an Entry bound to its matched files. A Task with no files is
// skipped by the caller.
type Task struct {
	Pattern  string
	Commands []string
	Files    []string
}

// Generate matches files against each entry in order. files are absolute
// paths; they are matched relative to dir. Files outside dir only match
// patterns that start with "../". Patterns without a slash match the file's
// base name, so "*.js" matches "sub/a.js". Returned file lists are absolute,
// or relative to dir when relative is set.
func Generate(entries []Entry, dir string, files []string, relative bool) []Task {
	tasks := make([]Task, 0, len(entries))
	for _, e := range entries {
		pattern := filepath.ToSlash(e.Pattern)
		var matched []string
		for _, f := range files {
			rel, err := filepath.Rel(dir, f)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !Matches(pattern, rel) {
				continue
			}
			if relative {
				matched = append(matched, filepath.FromSlash(rel))
			} else {
				matched = append(matched, filepath.Clean(f))
			}
		}
		tasks = append(tasks, Task{Pattern: e.Pattern, Commands: e.Commands, Files: matched})
	}
	return tasks
}

// Matches reports whether the slash-separated path rel, relative to the config
// directory, matches pattern.
func Matches(pattern, rel string) bool {
	outside := rel == ".." || strings.HasPrefix(rel, "../")
	if outside && !strings.HasPrefix(pattern, "../") {
		return false
	}
	name := rel
	if !strings.Contains(pattern, "/") {
		name = path.Base(rel)
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// HasFiles reports whether any task matched at least one file.
func HasFiles(tasks []Task) bool {
	for _, t := range tasks {
		if len(t.Files) > 0 {
			return true
		}
	}
	return false
}
