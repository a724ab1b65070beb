package config

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfSource is the conf directory relative to the project path.
	DefaultConfSource = "conf"
	// DefaultBaseEnv holds the shared configuration.
	DefaultBaseEnv = "base"
	// DefaultRunEnv overrides base values for the current machine.
	DefaultRunEnv = "local"
	// EnvVar selects the run environment when no explicit one is given.
	EnvVar = "KEDRO_ENV"
)

// Loader reads configuration documents from a conf source directory laid
// out as <conf>/<env>/... Documents from the run environment override the
// base environment key by key.
type Loader struct {
	fsys    fs.FS
	baseEnv string
	runEnv  string
}

// NewLoader creates a loader over projectPath/conf. An empty env falls back
// to $KEDRO_ENV and then to "local".
func NewLoader(projectPath, env string) *Loader {
	return NewLoaderFS(os.DirFS(filepath.Join(projectPath, DefaultConfSource)), env)
}

// NewLoaderFS creates a loader over an arbitrary filesystem rooted at the
// conf source.
func NewLoaderFS(fsys fs.FS, env string) *Loader {
	if env == "" {
		env = os.Getenv(EnvVar)
	}
	if env == "" {
		env = DefaultRunEnv
	}
	return &Loader{
		fsys:    fsys,
		baseEnv: DefaultBaseEnv,
		runEnv:  env,
	}
}

// Env returns the run environment the loader resolves against.
func (l *Loader) Env() string {
	return l.runEnv
}

// Get loads and merges every document matching any of the patterns. The
// patterns are doublestar globs relative to each environment directory.
// Missing environment directories are not an error; no match at all yields
// an empty map.
func (l *Loader) Get(patterns ...string) (map[string]any, error) {
	merged := make(map[string]any)

	envs := []string{l.baseEnv}
	if l.runEnv != l.baseEnv {
		envs = append(envs, l.runEnv)
	}

	for _, env := range envs {
		files, err := l.match(env, patterns)
		if err != nil {
			return nil, err
		}

		for _, file := range files {
			doc, err := l.decode(file)
			if err != nil {
				return nil, err
			}
			slog.Debug("loaded config document", "env", env, "file", file)
			mergeInto(merged, doc)
		}
	}

	return merged, nil
}

func (l *Loader) match(env string, patterns []string) ([]string, error) {
	if _, err := fs.Stat(l.fsys, env); err != nil {
		return nil, nil
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(l.fsys, path.Join(env, pattern))
		if err != nil {
			return nil, fmt.Errorf("matching config pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || !isConfigFile(m) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}

	sort.Strings(files)
	return files, nil
}

func isConfigFile(name string) bool {
	switch path.Ext(name) {
	case ".yml", ".yaml", ".toml", ".json":
		return true
	}
	return false
}

func (l *Loader) decode(file string) (map[string]any, error) {
	data, err := fs.ReadFile(l.fsys, file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}

	doc := make(map[string]any)
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	switch path.Ext(file) {
	case ".toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
	}

	return doc, nil
}

// mergeInto merges src into dst. Nested maps are merged recursively; any
// other value in src replaces the one in dst.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}
