// Package config provides stagecheck settings and task configuration.
//
// Settings are loaded in this order, later sources overriding earlier ones:
// defaults < global config < environment variables < CLI flags.
//
// Paths:
//   - Global: XDG config dir, e.g. ~/.config/stagecheck/config.toml (see os.UserConfigDir)
//
// Environment variables (override the global file when set):
//   - STAGECHECK_CONCURRENT (true, false or a positive integer).
//   - STAGECHECK_MAX_ARG_LENGTH (non-negative integer; 0 = platform default).
//   - STAGECHECK_STASH, STAGECHECK_ALLOW_EMPTY, STAGECHECK_RELATIVE,
//     STAGECHECK_VERBOSE, STAGECHECK_QUIET (1/true/yes/on = true, 0/false/no/off = false).
//   - STAGECHECK_SHELL (true, false or the path of a shell).
//
// Task configuration lives in the repository; see LoadTaskConfig and Groups.
package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"stagecheck/cli/internal/erruser"
)

// Settings holds run options that are not tied to a task configuration file.
type Settings struct {
	// Concurrency bounds concurrently running tasks: 0 is unbounded, 1 is serial.
	Concurrency int `toml:"concurrent"`
	// MaxArgLength bounds the combined length of file arguments per command.
	// 0 means the platform default.
	MaxArgLength int `toml:"max_arg_length"`
	// Stash enables the backup snapshot that allows reverting on failure.
	Stash      bool `toml:"stash"`
	AllowEmpty bool `toml:"allow_empty"`
	Relative   bool `toml:"relative"`
	// Shell is empty to run commands directly, otherwise the shell to run them with.
	Shell   string `toml:"shell"`
	Verbose bool   `toml:"verbose"`
	Quiet   bool   `toml:"quiet"`
}

// Overrides represents optional CLI flag overrides. Non-nil pointer means
// "override with this value".
type Overrides struct {
	Concurrency  *int
	MaxArgLength *int
	Stash        *bool
	AllowEmpty   *bool
	Relative     *bool
	Shell        *string
	Verbose      *bool
	Quiet        *bool
}

// LoadOptions configures Load. All fields are optional.
type LoadOptions struct {
	// GlobalConfigPath is the global config file path; if empty, XDG path is used.
	GlobalConfigPath string
	// Env is the environment key=value slice; if nil, os.Environ() is used.
	Env []string
	// Overrides are applied last (highest precedence).
	Overrides *Overrides
}

const (
	_defaultConcurrency  = 0
	_defaultMaxArgLength = 0
	_defaultStash        = true
)

// DefaultShell is the value of Shell when shell mode is enabled without naming a shell.
const DefaultShell = "true"

// errIntOverflow is returned when an int64 value does not fit in int (e.g. on 32-bit or huge TOML/env values).
var errIntOverflow = errors.New("value out of range for int")

func int64ToInt(n int64) (int, error) {
	if n < int64(math.MinInt) || n > int64(math.MaxInt) {
		return 0, errIntOverflow
	}
	return int(n), nil
}

// DefaultSettings returns the default settings (no I/O).
func DefaultSettings() Settings {
	return Settings{
		Concurrency:  _defaultConcurrency,
		MaxArgLength: _defaultMaxArgLength,
		Stash:        _defaultStash,
	}
}

// GlobalConfigPath returns the default global config path.
func GlobalConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "stagecheck", "config.toml"), nil
}

// Load loads settings with precedence: defaults < global file < env < overrides.
// A missing global file is ignored. Invalid TOML or invalid env values return an error.
func Load(ctx context.Context, opts LoadOptions) (*Settings, error) {
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	s := DefaultSettings()

	globalPath := opts.GlobalConfigPath
	if globalPath == "" {
		p, err := GlobalConfigPath()
		if err != nil {
			return nil, erruser.New("Could not determine config directory.", err)
		}
		globalPath = p
	}
	if err := mergeFile(&s, globalPath); err != nil {
		return nil, err
	}
	if err := applyEnv(&s, opts.Env); err != nil {
		return nil, err
	}
	applyOverrides(&s, opts.Overrides)
	return &s, nil
}

// mergeFile reads path and merges present keys into s. A missing file is skipped.
func mergeFile(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return erruser.New("Could not read configuration file.", err)
	}
	var file struct {
		Concurrent   any    `toml:"concurrent"`
		MaxArgLength *int64 `toml:"max_arg_length"`
		Stash        *bool  `toml:"stash"`
		AllowEmpty   *bool  `toml:"allow_empty"`
		Relative     *bool  `toml:"relative"`
		Shell        any    `toml:"shell"`
		Verbose      *bool  `toml:"verbose"`
		Quiet        *bool  `toml:"quiet"`
	}
	if _, err := toml.Decode(string(data), &file); err != nil {
		return erruser.New(fmt.Sprintf("Invalid configuration in %s.", path), err)
	}
	switch v := file.Concurrent.(type) {
	case nil:
	case bool:
		s.Concurrency = concurrencyFromBool(v)
	case int64:
		if v <= 0 {
			return erruser.New("Configuration concurrent must be a positive number or a boolean.", nil)
		}
		n, err := int64ToInt(v)
		if err != nil {
			return erruser.New("Configuration concurrent value out of range.", err)
		}
		s.Concurrency = n
	default:
		return erruser.New("Configuration concurrent must be a positive number or a boolean.", nil)
	}
	if file.MaxArgLength != nil && *file.MaxArgLength >= 0 {
		v, err := int64ToInt(*file.MaxArgLength)
		if err != nil {
			return erruser.New("Configuration max_arg_length value out of range.", err)
		}
		s.MaxArgLength = v
	}
	if file.Stash != nil {
		s.Stash = *file.Stash
	}
	if file.AllowEmpty != nil {
		s.AllowEmpty = *file.AllowEmpty
	}
	if file.Relative != nil {
		s.Relative = *file.Relative
	}
	switch v := file.Shell.(type) {
	case nil:
	case bool:
		s.Shell = ""
		if v {
			s.Shell = DefaultShell
		}
	case string:
		s.Shell = normalizeShell(v)
	default:
		return erruser.New("Configuration shell must be a boolean or a path.", nil)
	}
	if file.Verbose != nil {
		s.Verbose = *file.Verbose
	}
	if file.Quiet != nil {
		s.Quiet = *file.Quiet
	}
	return nil
}

// env key names for settings
const (
	envConcurrent   = "STAGECHECK_CONCURRENT"
	envMaxArgLength = "STAGECHECK_MAX_ARG_LENGTH"
	envStash        = "STAGECHECK_STASH"
	envAllowEmpty   = "STAGECHECK_ALLOW_EMPTY"
	envRelative     = "STAGECHECK_RELATIVE"
	envShell        = "STAGECHECK_SHELL"
	envVerbose      = "STAGECHECK_VERBOSE"
	envQuiet        = "STAGECHECK_QUIET"
)

func applyEnv(s *Settings, env []string) error {
	vals := make(map[string]string)
	for _, e := range env {
		idx := strings.Index(e, "=")
		if idx <= 0 {
			continue
		}
		vals[strings.TrimSpace(e[:idx])] = strings.TrimSpace(e[idx+1:])
	}
	if v, ok := vals[envConcurrent]; ok && v != "" {
		n, err := ParseConcurrency(v)
		if err != nil {
			return erruser.New("STAGECHECK_CONCURRENT must be true, false or a positive number.", err)
		}
		s.Concurrency = n
	}
	if v, ok := vals[envMaxArgLength]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return erruser.New("STAGECHECK_MAX_ARG_LENGTH must be a non-negative number.", err)
		}
		s.MaxArgLength, err = int64ToInt(n)
		if err != nil {
			return erruser.New("STAGECHECK_MAX_ARG_LENGTH value out of range.", err)
		}
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{envStash, &s.Stash},
		{envAllowEmpty, &s.AllowEmpty},
		{envRelative, &s.Relative},
		{envVerbose, &s.Verbose},
		{envQuiet, &s.Quiet},
	}
	for _, b := range bools {
		v, ok := vals[b.key]
		if !ok || v == "" {
			continue
		}
		parsed, err := parseBool(v)
		if err != nil {
			return erruser.New(b.key+" must be a boolean (1/true/yes/on or 0/false/no/off).", err)
		}
		*b.dst = parsed
	}
	if v, ok := vals[envShell]; ok {
		s.Shell = normalizeShell(v)
	}
	return nil
}

// ParseConcurrency parses a --concurrent value: true is unbounded (0), false
// is serial (1), a positive integer is a limit.
func ParseConcurrency(v string) (int, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("concurrency must be positive, got %d", n)
		}
		return n, nil
	}
	b, err := parseBool(v)
	if err != nil {
		return 0, fmt.Errorf("invalid concurrency %q", v)
	}
	return concurrencyFromBool(b), nil
}

func concurrencyFromBool(b bool) int {
	if b {
		return 0
	}
	return 1
}

// normalizeShell maps boolean spellings to DefaultShell or "" and keeps paths.
func normalizeShell(v string) string {
	v = strings.TrimSpace(v)
	if b, err := parseBool(v); err == nil {
		if b {
			return DefaultShell
		}
		return ""
	}
	return v
}

// parseBool parses common boolean env values: 1/true/yes/on = true, 0/false/no/off = false (case-insensitive).
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

func applyOverrides(s *Settings, o *Overrides) {
	if o == nil {
		return
	}
	if o.Concurrency != nil {
		s.Concurrency = *o.Concurrency
	}
	if o.MaxArgLength != nil {
		s.MaxArgLength = *o.MaxArgLength
	}
	if o.Stash != nil {
		s.Stash = *o.Stash
	}
	if o.AllowEmpty != nil {
		s.AllowEmpty = *o.AllowEmpty
	}
	if o.Relative != nil {
		s.Relative = *o.Relative
	}
	if o.Shell != nil {
		s.Shell = normalizeShell(*o.Shell)
	}
	if o.Verbose != nil {
		s.Verbose = *o.Verbose
	}
	if o.Quiet != nil {
		s.Quiet = *o.Quiet
	}
}
