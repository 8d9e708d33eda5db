// Package config reads the declarative build configuration of a project:
// the [build-system] table of pyproject.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/pybuild/pybuild/pkg/global"
)

// The defaults mandated for projects that predate pyproject.toml, or that
// have one without a [build-system] table.
var (
	defaultBuildSystemRequires = []string{"setuptools >= 40.8.0"}
	defaultBuildBackend        = "setuptools.build_meta:__legacy__"
)

// Config is the build-system configuration of one project.
type Config struct {
	// BuildSystemRequires are the requirement specifiers needed merely to
	// load the backend, installed into the isolated environment before any
	// hook runs.
	BuildSystemRequires []string

	// BuildBackend names the backend object, e.g. "setuptools.build_meta".
	BuildBackend string

	// BackendPath holds in-tree import paths for self-hosted backends,
	// relative to the source directory.
	BackendPath []string
}

type pyproject struct {
	BuildSystem *buildSystem `toml:"build-system"`
}

type buildSystem struct {
	Requires     []string `toml:"requires"`
	BuildBackend string   `toml:"build-backend"`
	BackendPath  []string `toml:"backend-path"`
}

// Load reads <srcDir>/pyproject.toml. A missing file or a missing
// [build-system] table yields the legacy setuptools defaults.
func Load(srcDir string) (*Config, error) {
	path := filepath.Join(srcDir, global.ConfigFilename)

	contents, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, &Error{Path: path, Reason: err.Error()}
	}

	var proj pyproject
	if err := toml.Unmarshal(contents, &proj); err != nil {
		return nil, &Error{Path: path, Reason: fmt.Sprintf("invalid TOML: %s", err)}
	}

	if proj.BuildSystem == nil {
		return defaultConfig(), nil
	}

	cfg := &Config{
		BuildSystemRequires: proj.BuildSystem.Requires,
		BuildBackend:        proj.BuildSystem.BuildBackend,
		BackendPath:         proj.BuildSystem.BackendPath,
	}
	if cfg.BuildSystemRequires == nil {
		return nil, &Error{Path: path, Reason: "[build-system] is missing the required 'requires' list"}
	}
	if cfg.BuildBackend == "" {
		// A table with requires but no backend still builds with the legacy
		// backend, but backend-path is only meaningful with an explicit one.
		if len(cfg.BackendPath) > 0 {
			return nil, &Error{Path: path, Reason: "'backend-path' requires an explicit 'build-backend'"}
		}
		cfg.BuildBackend = defaultBuildBackend
	}

	for _, p := range cfg.BackendPath {
		if err := validateBackendPath(srcDir, p); err != nil {
			return nil, &Error{Path: path, Reason: err.Error()}
		}
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		BuildSystemRequires: append([]string{}, defaultBuildSystemRequires...),
		BuildBackend:        defaultBuildBackend,
	}
}

// Backend path entries must resolve inside the source tree.
func validateBackendPath(srcDir, entry string) error {
	resolved := entry
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(srcDir, resolved)
	}
	resolved = filepath.Clean(resolved)

	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absSrc, resolved)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return fmt.Errorf("'backend-path' entry %q points outside the source tree", entry)
	}
	return nil
}
