// Package version reports the stagecheck version shown by --version.
//
// Release builds set Version with
//
//	go build -ldflags "-X stagecheck/cli/internal/version.Version=v1.0.0"
//
// Other builds fall back to the module version and VCS revision embedded by
// the go tool.
package version

import "runtime/debug"

// Version is the release version; "dev" for unreleased builds.
var Version = "dev"

// Commit is the short commit hash. Set via ldflags or read from build info.
var Commit = ""

var readBuildInfo = debug.ReadBuildInfo

// String returns Version, or for dev builds "dev (abc1234)" when a commit is
// known. A dev build installed with go install reports its module version.
func String() string {
	if Version != "dev" {
		return Version
	}
	v, commit := Version, Commit
	if info, ok := readBuildInfo(); ok {
		if mv := info.Main.Version; mv != "" && mv != "(devel)" {
			v = mv
		}
		if commit == "" {
			commit = setting(info, "vcs.revision")
		}
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if commit == "" {
		return v
	}
	return v + " (" + commit + ")"
}

func setting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
