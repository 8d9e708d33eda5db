// Package pipeline sequences whole builds: either each requested
// distribution directly from the source tree, or a source distribution
// first with every binary distribution built from its extracted contents.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pybuild/pybuild/pkg/archive"
	"github.com/pybuild/pybuild/pkg/backend"
	"github.com/pybuild/pybuild/pkg/builder"
	"github.com/pybuild/pybuild/pkg/console"
	"github.com/pybuild/pybuild/pkg/installer"
	"github.com/pybuild/pybuild/pkg/pyenv"
)

// ErrSdistViaSdist rejects requesting a source distribution from the
// sdist-first pipeline; that combination must build directly.
var ErrSdistViaSdist = errors.New("only binary distributions can be built via an sdist")

// Options configure one pipeline invocation. Builds are strictly
// sequential: no distribution's build begins before the previous one
// completes, since backends are not guaranteed to tolerate concurrent
// invocation.
type Options struct {
	// SourceDir is the project source tree.
	SourceDir string
	// Distributions are the kinds to build. Empty means the default
	// behavior: an sdist, then a wheel from the extracted sdist.
	Distributions []builder.Distribution
	// OutputDir defaults to <SourceDir>/dist.
	OutputDir string
	// ConfigSettings are forwarded opaquely to every hook.
	ConfigSettings backend.ConfigSettings
	// NoIsolation builds in the caller's environment instead of a fresh one.
	NoIsolation bool
	// Strategy optionally forces an environment provisioning strategy.
	Strategy pyenv.Strategy
	// Installer optionally overrides the installer the strategy implies.
	Installer installer.Installer
	// SkipDependencyCheck disables the dependency check in non-isolated
	// builds.
	SkipDependencyCheck bool
	// ExtraEnviron is merged into every subprocess environment, e.g. a
	// variable instructing subprocess tooling to emit color.
	ExtraEnviron []string
	// Console receives progress and, in verbose mode, subprocess output.
	Console *console.Console
}

func (o *Options) outputDir() string {
	if o.OutputDir != "" {
		return o.OutputDir
	}
	return filepath.Join(o.SourceDir, "dist")
}

func (o *Options) console() *console.Console {
	if o.Console != nil {
		return o.Console
	}
	return console.New(console.InfoLevel)
}

// Build runs the pipeline and returns the basenames of the built artifacts
// in build order. With explicit distributions every artifact is built
// directly from the source tree; otherwise an sdist is built and a wheel is
// built from the sdist's extracted contents, exercising the sdist's
// self-sufficiency.
func Build(ctx context.Context, opts Options) ([]string, error) {
	if len(opts.Distributions) > 0 {
		return BuildPackage(ctx, opts, opts.Distributions)
	}
	return BuildPackageViaSdist(ctx, opts, []builder.Distribution{builder.Wheel})
}

// BuildPackage builds each requested distribution from the original source
// tree.
func BuildPackage(ctx context.Context, opts Options, dists []builder.Distribution) ([]string, error) {
	var built []string
	for _, dist := range dists {
		path, err := buildOne(ctx, opts, opts.SourceDir, dist)
		if err != nil {
			return nil, err
		}
		built = append(built, filepath.Base(path))
	}
	return built, nil
}

// BuildPackageViaSdist builds one sdist from the source tree, then each of
// the given binary distributions from the sdist's extracted contents. The
// single extraction is reused for all of them.
func BuildPackageViaSdist(ctx context.Context, opts Options, dists []builder.Distribution) ([]string, error) {
	for _, dist := range dists {
		if dist == builder.Sdist {
			return nil, ErrSdistViaSdist
		}
	}

	sdist, err := buildOne(ctx, opts, opts.SourceDir, builder.Sdist)
	if err != nil {
		return nil, err
	}
	sdistName := filepath.Base(sdist)
	built := []string{sdistName}

	if len(dists) == 0 {
		return built, nil
	}

	extractDir, err := os.MkdirTemp("", "pybuild-via-sdist-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(extractDir)

	if err := archive.ExtractTarGz(sdist, extractDir); err != nil {
		return nil, err
	}

	con := opts.console()
	con.Infof("Preparing to build %s from sdist", naturalLanguageList(distNames(dists)))

	srcDir := filepath.Join(extractDir, strings.TrimSuffix(sdistName, ".tar.gz"))
	for _, dist := range dists {
		path, err := buildOne(ctx, opts, srcDir, dist)
		if err != nil {
			return nil, err
		}
		built = append(built, filepath.Base(path))
	}
	return built, nil
}

// buildOne builds a single distribution, provisioning a fresh isolated
// environment for it unless isolation is disabled.
func buildOne(ctx context.Context, opts Options, srcDir string, dist builder.Distribution) (string, error) {
	if opts.NoIsolation {
		return buildInCurrentEnv(ctx, opts, srcDir, dist)
	}
	return buildInIsolatedEnv(ctx, opts, srcDir, dist)
}

func buildInIsolatedEnv(ctx context.Context, opts Options, srcDir string, dist builder.Distribution) (_ string, err error) {
	con := opts.console()

	envOpts := []pyenv.Option{
		pyenv.WithStrategy(opts.Strategy),
		pyenv.WithExtraEnviron(opts.ExtraEnviron),
	}
	if opts.Installer != nil {
		envOpts = append(envOpts, pyenv.WithInstaller(opts.Installer))
	}
	env := pyenv.New(con, envOpts...)
	if err := env.Create(ctx); err != nil {
		return "", err
	}
	defer func() {
		if cerr := env.Close(); err == nil {
			err = cerr
		}
	}()

	b, err := builder.FromIsolatedEnv(env, srcDir, con, opts.ExtraEnviron)
	if err != nil {
		return "", err
	}

	// First the requirements to load the backend, then whatever the freshly
	// installed backend declares on top.
	if err := env.Install(ctx, b.BuildSystemRequires()); err != nil {
		return "", err
	}
	extra, err := b.GetRequiresForBuild(ctx, dist, opts.ConfigSettings)
	if err != nil {
		return "", err
	}
	if err := env.Install(ctx, extra); err != nil {
		return "", err
	}

	return b.Build(ctx, dist, opts.outputDir(), opts.ConfigSettings)
}

func buildInCurrentEnv(ctx context.Context, opts Options, srcDir string, dist builder.Distribution) (string, error) {
	con := opts.console()

	b, err := builder.New(ctx, srcDir, con, opts.ExtraEnviron)
	if err != nil {
		return "", err
	}

	if !opts.SkipDependencyCheck {
		unmet, err := b.CheckDependencies(ctx, dist, opts.ConfigSettings)
		if err != nil {
			return "", err
		}
		if len(unmet) > 0 {
			return "", &builder.UnmetDependenciesError{Unmet: unmet}
		}
	}

	return b.Build(ctx, dist, opts.outputDir(), opts.ConfigSettings)
}

func distNames(dists []builder.Distribution) []string {
	names := make([]string, len(dists))
	for i, dist := range dists {
		names[i] = string(dist)
	}
	return names
}

// naturalLanguageList renders ["a", "b", "c"] as "a, b and c".
func naturalLanguageList(elements []string) string {
	if len(elements) <= 1 {
		return strings.Join(elements, "")
	}
	return strings.Join(elements[:len(elements)-1], ", ") + " and " + elements[len(elements)-1]
}
