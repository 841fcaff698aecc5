package config

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"stagecheck/cli/internal/erruser"
	"stagecheck/cli/internal/git"
)

// ErrNoConfig indicates that no task configuration was found.
var ErrNoConfig = errors.New("no task configuration found")

// Group is a task configuration and the staged files it applies to.
type Group struct {
	Config TaskConfig
	// Files are absolute paths.
	Files []string
}

// GroupOptions configures Groups.
type GroupOptions struct {
	// Root is the repository root.
	Root string
	// Cwd is the working directory; explicit config paths resolve against it.
	Cwd string
	// ConfigPath, when set, is used for every staged file instead of discovery.
	ConfigPath string
	// Files are the absolute staged file paths.
	Files []string
}

// Groups assigns each staged file to a task configuration. With ConfigPath
// every file belongs to that configuration and patterns match relative to
// Cwd. Otherwise every configuration file in the repository (tracked or
// untracked but not ignored) is discovered and each file goes to the one in
// its nearest ancestor directory; files with no such ancestor are dropped.
// Groups are ordered by configuration path.
func Groups(ctx context.Context, opts GroupOptions) ([]Group, error) {
	if opts.ConfigPath != "" {
		p := opts.ConfigPath
		if !filepath.IsAbs(p) {
			p = filepath.Join(opts.Cwd, p)
		}
		cfg, err := LoadTaskConfig(p)
		if err != nil {
			return nil, erruser.New("Could not load the task configuration.", err)
		}
		cfg.Dir = opts.Cwd
		return []Group{{Config: cfg, Files: opts.Files}}, nil
	}

	configs, err := discover(ctx, opts.Root)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, erruser.WithHint("No task configuration found.", ErrNoConfig,
			fmt.Sprintf("Create one of %s in the repository.", strings.Join(TaskConfigNames, ", ")))
	}

	byDir := make(map[string][]string)
	for _, f := range opts.Files {
		dir, ok := nearest(configs, opts.Root, f)
		if !ok {
			continue
		}
		byDir[dir] = append(byDir[dir], f)
	}

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	groups := make([]Group, 0, len(dirs))
	for _, d := range dirs {
		cfg, err := LoadTaskConfig(filepath.Join(opts.Root, filepath.FromSlash(configs[d])))
		if err != nil {
			return nil, erruser.New("Could not load the task configuration.", err)
		}
		groups = append(groups, Group{Config: cfg, Files: byDir[d]})
	}
	return groups, nil
}

// discover maps the slash-separated repository-relative directory of each
// configuration ("" for the root) to its file, preferring names earlier in
// TaskConfigNames.
func discover(ctx context.Context, root string) (map[string]string, error) {
	files, err := git.ListFiles(ctx, root)
	if err != nil {
		return nil, err
	}
	rank := make(map[string]int, len(TaskConfigNames))
	for i, n := range TaskConfigNames {
		rank[n] = i
	}
	configs := make(map[string]string)
	for _, f := range files {
		base := path.Base(f)
		if !IsTaskConfigName(base) {
			continue
		}
		dir := path.Dir(f)
		if dir == "." {
			dir = ""
		}
		if cur, ok := configs[dir]; ok && rank[path.Base(cur)] <= rank[base] {
			continue
		}
		configs[dir] = f
	}
	return configs, nil
}

// nearest returns the config directory closest to file, walking up from its
// directory to the repository root.
func nearest(configs map[string]string, root, file string) (string, bool) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return "", false
	}
	dir := path.Dir(rel)
	for {
		if dir == "." {
			dir = ""
		}
		if _, ok := configs[dir]; ok {
			return dir, true
		}
		if dir == "" {
			return "", false
		}
		dir = path.Dir(dir)
	}
}
