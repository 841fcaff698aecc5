package config

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v\n%s", err, out)
	}
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestGroups_nearestConfig(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	rootCfg := writeFile(t, root, ".stagecheck.toml", `"*" = "echo root"`)
	pkgCfg := writeFile(t, root, "pkg/.stagecheck.yaml", `"*": echo pkg`)
	writeFile(t, root, "pkg/.stagecheck.yml", `"*": echo ignored`)
	writeFile(t, root, ".gitignore", "ignored/\n")
	writeFile(t, root, "ignored/.stagecheck.toml", `"*" = "echo ignored"`)

	files := []string{
		writeFile(t, root, "a.js", ""),
		writeFile(t, root, "pkg/b.js", ""),
		writeFile(t, root, "pkg/deep/c.js", ""),
		writeFile(t, root, "other/d.js", ""),
		writeFile(t, root, "ignored/e.js", ""),
	}

	groups, err := Groups(context.Background(), GroupOptions{Root: root, Cwd: root, Files: files})
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(groups), groups)
	}
	if groups[0].Config.Path != rootCfg || groups[0].Config.Dir != root {
		t.Errorf("group 0 config = %s (dir %s), want %s", groups[0].Config.Path, groups[0].Config.Dir, rootCfg)
	}
	if want := []string{files[0], files[3], files[4]}; !reflect.DeepEqual(groups[0].Files, want) {
		t.Errorf("group 0 files = %v, want %v", groups[0].Files, want)
	}
	if groups[1].Config.Path != pkgCfg {
		t.Errorf("group 1 config = %s, want %s", groups[1].Config.Path, pkgCfg)
	}
	if want := []string{files[1], files[2]}; !reflect.DeepEqual(groups[1].Files, want) {
		t.Errorf("group 1 files = %v, want %v", groups[1].Files, want)
	}
}

func TestGroups_filesWithoutConfigDropped(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	writeFile(t, root, "pkg/.stagecheck.toml", `"*" = "echo"`)
	files := []string{writeFile(t, root, "top.js", ""), writeFile(t, root, "pkg/a.js", "")}
	groups, err := Groups(context.Background(), GroupOptions{Root: root, Cwd: root, Files: files})
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 1 || !reflect.DeepEqual(groups[0].Files, files[1:]) {
		t.Errorf("groups = %+v, want only pkg/a.js", groups)
	}
}

func TestGroups_explicitConfig(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	writeFile(t, root, ".stagecheck.toml", `"*" = "echo discovered"`)
	cfgPath := writeFile(t, t.TempDir(), "custom.yaml", `"*.js": echo explicit`)
	cwd := filepath.Join(root, "sub")
	files := []string{writeFile(t, root, "sub/a.js", ""), writeFile(t, root, "b.js", "")}

	groups, err := Groups(context.Background(), GroupOptions{Root: root, Cwd: cwd, ConfigPath: cfgPath, Files: files})
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if g.Config.Dir != cwd || g.Config.Entries[0].Commands[0] != "echo explicit" {
		t.Errorf("config = %+v", g.Config)
	}
	if !reflect.DeepEqual(g.Files, files) {
		t.Errorf("files = %v, want all staged files", g.Files)
	}
}

func TestGroups_relativeExplicitConfig(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	writeFile(t, root, "conf/tasks.toml", `"*" = "echo"`)
	groups, err := Groups(context.Background(), GroupOptions{Root: root, Cwd: root, ConfigPath: "conf/tasks.toml"})
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if groups[0].Config.Path != filepath.Join(root, "conf", "tasks.toml") {
		t.Errorf("Path = %s", groups[0].Config.Path)
	}
}

func TestGroups_noConfig(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	_, err := Groups(context.Background(), GroupOptions{Root: root, Cwd: root, Files: []string{writeFile(t, root, "a.js", "")}})
	if !errors.Is(err, ErrNoConfig) {
		t.Errorf("err = %v, want ErrNoConfig", err)
	}
}

func TestGroups_invalidConfig(t *testing.T) {
	t.Parallel()
	root := initRepo(t)
	writeFile(t, root, ".stagecheck.toml", `"*.js" = 1`)
	_, err := Groups(context.Background(), GroupOptions{Root: root, Cwd: root, Files: []string{writeFile(t, root, "a.js", "")}})
	if !errors.Is(err, ErrInvalidTaskConfig) {
		t.Errorf("err = %v, want ErrInvalidTaskConfig", err)
	}
}
