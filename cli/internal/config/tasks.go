package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"stagecheck/cli/internal/match"
)

// TaskConfigNames are the recognised task configuration file names, in order
// of precedence when several exist in one directory.
var TaskConfigNames = []string{".stagecheck.toml", ".stagecheck.yaml", ".stagecheck.yml"}

// ErrInvalidTaskConfig is wrapped by every task configuration parse error.
var ErrInvalidTaskConfig = errors.New("invalid task configuration")

// TaskConfig is a parsed task configuration file.
type TaskConfig struct {
	// Path is the absolute path of the file.
	Path string
	// Dir is the directory patterns are matched relative to.
	Dir string
	// Entries keep the order of the file.
	Entries []match.Entry
}

// IsTaskConfigName reports whether base is a task configuration file name.
func IsTaskConfigName(base string) bool {
	for _, n := range TaskConfigNames {
		if base == n {
			return true
		}
	}
	return false
}

// LoadTaskConfig reads and parses the task configuration at path. Dir is set
// to the file's directory.
func LoadTaskConfig(path string) (TaskConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TaskConfig{}, fmt.Errorf("read %s: %w", path, err)
	}
	entries, err := ParseTaskConfig(filepath.Base(path), data)
	if err != nil {
		return TaskConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return TaskConfig{}, err
	}
	return TaskConfig{Path: abs, Dir: filepath.Dir(abs), Entries: entries}, nil
}

// ParseTaskConfig parses data as TOML or YAML depending on the extension of
// name. The top level maps glob patterns to a command or a list of commands.
func ParseTaskConfig(name string, data []byte) ([]match.Entry, error) {
	var (
		entries []match.Entry
		err     error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		entries, err = parseTOML(data)
	case ".yaml", ".yml":
		entries, err = parseYAML(data)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidTaskConfig, name)
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: configuration should not be empty", ErrInvalidTaskConfig)
	}
	return entries, nil
}

func parseTOML(data []byte) ([]match.Entry, error) {
	var raw map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTaskConfig, err)
	}
	var entries []match.Entry
	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}
		pattern := key[0]
		cmds, err := commandsFromValue(pattern, raw[pattern])
		if err != nil {
			return nil, err
		}
		entries = append(entries, match.Entry{Pattern: pattern, Commands: cmds})
	}
	return entries, nil
}

func commandsFromValue(pattern string, v any) ([]string, error) {
	switch x := v.(type) {
	case string:
		return validCommands(pattern, []string{x})
	case []any:
		cmds := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %q: commands must be strings", ErrInvalidTaskConfig, pattern)
			}
			cmds = append(cmds, s)
		}
		return validCommands(pattern, cmds)
	default:
		return nil, fmt.Errorf("%w: %q: expected a command or a list of commands", ErrInvalidTaskConfig, pattern)
	}
}

func parseYAML(data []byte) ([]match.Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTaskConfig, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must map patterns to commands", ErrInvalidTaskConfig)
	}
	var entries []match.Entry
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		pattern := key.Value
		var cmds []string
		switch val.Kind {
		case yaml.ScalarNode:
			cmds = []string{val.Value}
		case yaml.SequenceNode:
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("%w: %q: commands must be strings", ErrInvalidTaskConfig, pattern)
				}
				cmds = append(cmds, item.Value)
			}
		default:
			return nil, fmt.Errorf("%w: %q: expected a command or a list of commands", ErrInvalidTaskConfig, pattern)
		}
		cmds, err := validCommands(pattern, cmds)
		if err != nil {
			return nil, err
		}
		entries = append(entries, match.Entry{Pattern: pattern, Commands: cmds})
	}
	return entries, nil
}

func validCommands(pattern string, cmds []string) ([]string, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidTaskConfig)
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("%w: %q: no commands", ErrInvalidTaskConfig, pattern)
	}
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("%w: %q: empty command", ErrInvalidTaskConfig, pattern)
		}
		out = append(out, c)
	}
	return out, nil
}
