// Package builder owns one build session for one project: it composes the
// environment, the installer and the backend gateway to produce an artifact
// or metadata for a requested distribution kind.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pybuild/pybuild/pkg/archive"
	"github.com/pybuild/pybuild/pkg/backend"
	"github.com/pybuild/pybuild/pkg/config"
	"github.com/pybuild/pybuild/pkg/console"
	"github.com/pybuild/pybuild/pkg/metadata"
	"github.com/pybuild/pybuild/pkg/pyenv"
	"github.com/pybuild/pybuild/pkg/requirements"
)

// Distribution is a distribution kind.
type Distribution string

const (
	Sdist Distribution = "sdist"
	Wheel Distribution = "wheel"
)

// ParseDistribution parses a distribution kind from the command line.
func ParseDistribution(s string) (Distribution, error) {
	switch Distribution(s) {
	case Sdist, Wheel:
		return Distribution(s), nil
	}
	return "", fmt.Errorf("invalid distribution %q (choose sdist or wheel)", s)
}

// ProjectBuilder builds one project with one interpreter. Construct a fresh
// one per build session; it performs no internal locking because sessions
// never share an environment.
type ProjectBuilder struct {
	SourceDir string

	cfg         *config.Config
	runner      *backend.Runner
	con         *console.Console
	searchPaths []string
	markerEnv   requirements.Environment
}

// New binds a builder to the host interpreter: hooks run in the caller's
// environment, as used when isolation is disabled.
func New(ctx context.Context, srcDir string, con *console.Console, extraEnviron []string) (*ProjectBuilder, error) {
	exe, err := pyenv.FindInterpreter()
	if err != nil {
		return nil, err
	}
	host, err := pyenv.ProbeInterpreter(ctx, con, exe)
	if err != nil {
		return nil, err
	}
	b, err := newBuilder(srcDir, con, host.Executable, extraEnviron)
	if err != nil {
		return nil, err
	}
	b.searchPaths = host.SearchPaths
	b.markerEnv = pyenv.MarkerEnvironment(host)
	return b, nil
}

// FromIsolatedEnv binds a builder to a provisioned isolated environment:
// hooks run under the environment's interpreter with its scripts on PATH.
func FromIsolatedEnv(env pyenv.IsolatedEnv, srcDir string, con *console.Console, extraEnviron []string) (*ProjectBuilder, error) {
	merged := append(append([]string{}, extraEnviron...), env.MakeExtraEnviron()...)
	return newBuilder(srcDir, con, env.Executable(), merged)
}

func newBuilder(srcDir string, con *console.Console, python string, extraEnviron []string) (*ProjectBuilder, error) {
	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(absSrc)
	if err != nil {
		return nil, err
	}
	return &ProjectBuilder{
		SourceDir: absSrc,
		cfg:       cfg,
		con:       con,
		runner: &backend.Runner{
			SourceDir:    absSrc,
			Backend:      cfg.BuildBackend,
			BackendPath:  cfg.BackendPath,
			Python:       python,
			ExtraEnviron: extraEnviron,
			Console:      con,
		},
	}, nil
}

// BuildSystemRequires are the specifiers needed merely to load the backend,
// read once from the project configuration.
func (b *ProjectBuilder) BuildSystemRequires() []string {
	return b.cfg.BuildSystemRequires
}

func requiresHook(dist Distribution) backend.Hook {
	if dist == Sdist {
		return backend.HookGetRequiresForBuildSdist
	}
	return backend.HookGetRequiresForBuildWheel
}

func buildHook(dist Distribution) backend.Hook {
	if dist == Sdist {
		return backend.HookBuildSdist
	}
	return backend.HookBuildWheel
}

// GetRequiresForBuild returns the requirements, beyond BuildSystemRequires,
// that the backend computes dynamically for the given distribution. A
// backend without the hook declares none.
func (b *ProjectBuilder) GetRequiresForBuild(ctx context.Context, dist Distribution, settings backend.ConfigSettings) ([]string, error) {
	reqs, err := b.runner.GetRequires(ctx, requiresHook(dist), settings)
	if errors.Is(err, backend.ErrHookUnsupported) {
		return nil, nil
	}
	return reqs, err
}

// Build produces the requested distribution into outputDir, creating the
// directory if needed, and returns the artifact's absolute path.
func (b *ProjectBuilder) Build(ctx context.Context, dist Distribution, outputDir string, settings backend.ConfigSettings) (string, error) {
	absOut, err := filepath.Abs(outputDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(absOut, 0o755); err != nil {
		return "", err
	}
	basename, err := b.runner.Build(ctx, buildHook(dist), absOut, settings)
	if err != nil {
		return "", err
	}
	return filepath.Join(absOut, basename), nil
}

// MetadataPath returns the path of a directory containing the project's
// wheel metadata, placed under destDir. Backends lacking the fast metadata
// hook fall back to a full wheel build into a scratch directory, from which
// the metadata subtree is extracted; more work, but compatible.
func (b *ProjectBuilder) MetadataPath(ctx context.Context, destDir string, settings backend.ConfigSettings) (string, error) {
	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(absDest, 0o755); err != nil {
		return "", err
	}

	basename, err := b.runner.PrepareMetadata(ctx, absDest, settings)
	if err == nil {
		return filepath.Join(absDest, basename), nil
	}
	if !errors.Is(err, backend.ErrHookUnsupported) {
		return "", err
	}

	scratch, err := os.MkdirTemp("", "pybuild-metadata-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(scratch)

	wheel, err := b.Build(ctx, Wheel, scratch, settings)
	if err != nil {
		return "", err
	}
	return extractWheelMetadata(wheel, absDest)
}

func extractWheelMetadata(wheel, destDir string) (string, error) {
	// Unpack inside destDir so the dist-info move below stays on one
	// filesystem; the system temp dir may be a different mount.
	unpacked, err := os.MkdirTemp(destDir, ".pybuild-unpack-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(unpacked)

	if err := archive.ExtractZip(wheel, unpacked); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(unpacked)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), ".dist-info") {
			target := filepath.Join(destDir, entry.Name())
			if err := os.Rename(filepath.Join(unpacked, entry.Name()), target); err != nil {
				return "", err
			}
			return target, nil
		}
	}
	return "", fmt.Errorf("wheel %s contains no .dist-info directory", filepath.Base(wheel))
}

// CheckDependencies verifies that the build-system requirements, the
// backend's dynamic requirements, and everything they transitively declare
// are installed at satisfying versions. Used only when isolation is
// disabled and the caller has not opted out.
func (b *ProjectBuilder) CheckDependencies(ctx context.Context, dist Distribution, settings backend.ConfigSettings) ([]metadata.Chain, error) {
	extra, err := b.GetRequiresForBuild(ctx, dist, settings)
	if err != nil {
		return nil, err
	}
	specs := append(append([]string{}, b.BuildSystemRequires()...), extra...)
	return metadata.CheckDependencies(b.searchPaths, b.markerEnv, specs)
}
