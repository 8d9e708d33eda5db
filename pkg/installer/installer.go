// Package installer installs requirement specifiers into a target
// environment by driving an external installer subprocess.
package installer

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"

	goversion "github.com/hashicorp/go-version"

	"github.com/pybuild/pybuild/pkg/console"
	"github.com/pybuild/pybuild/pkg/global"
	"github.com/pybuild/pybuild/pkg/metadata"
	"github.com/pybuild/pybuild/pkg/shell"
)

// Env is the target of an install: the narrow surface of an isolated
// environment the installer needs. A nil Env targets the host environment.
type Env interface {
	// Executable is the target interpreter path.
	Executable() string
	// Root is the environment's filesystem root.
	Root() string
}

// Installer installs the specifiers listed in a requirements file into env.
type Installer interface {
	Install(ctx context.Context, env Env, reqsFile string) error
}

// outerPipVersion is the minimum host pip able to target a foreign
// environment by path (the --python option).
const outerPipVersion = "22.3.0"

// Pip installs with pip: the host's when it is new enough to target the
// environment directly, the environment's own otherwise.
type Pip struct {
	Console *console.Console
	// Python is the host interpreter.
	Python string
	// SearchPaths are the host interpreter's metadata search paths, used to
	// probe the host pip's version. The probe is recomputed per call so a
	// long-running caller sees a pip installed after startup.
	SearchPaths []string
	// ExtraEnviron is merged into the subprocess environment.
	ExtraEnviron []string
}

type pipProbe int

const (
	pipAbsent pipProbe = iota
	pipTooOld
	pipValid
)

func (p *Pip) Install(ctx context.Context, env Env, reqsFile string) error {
	absReqs, err := filepath.Abs(reqsFile)
	if err != nil {
		return err
	}

	var cmd []string
	switch {
	case env == nil:
		cmd = []string{p.Python, "-m", "pip"}
	case p.probeOuterPip() == pipValid:
		cmd = []string{p.Python, "-m", "pip", "--python", env.Executable()}
	default:
		cmd = []string{env.Executable(), "-Im", "pip"}
	}
	if p.Console.Verbose() {
		cmd = append(cmd, "-v")
	}
	cmd = append(cmd, "install", "--use-pep517", "--no-warn-script-location", "-r", absReqs)

	out, err := shell.Run(ctx, p.Console, cmd[0], cmd[1:], shell.Options{ExtraEnviron: p.ExtraEnviron})
	if err != nil {
		return &Error{Installer: "pip", Output: out, Err: err}
	}
	return nil
}

// HasValidOuterPip reports whether the pip on the given metadata search
// paths is new enough to target a foreign environment by path.
func HasValidOuterPip(paths []string) bool {
	dist, err := metadata.Lookup(paths, "pip")
	return err == nil && dist != nil && classifyPip(dist.Version, outerPipVersion) == pipValid
}

func (p *Pip) probeOuterPip() pipProbe {
	dist, err := metadata.Lookup(p.SearchPaths, "pip")
	if err != nil || dist == nil {
		return pipAbsent
	}
	return classifyPip(dist.Version, outerPipVersion)
}

func classifyPip(installed, minimum string) pipProbe {
	have, err := goversion.NewVersion(installed)
	if err != nil {
		return pipTooOld
	}
	want := goversion.Must(goversion.NewVersion(minimum))
	if have.LessThan(want) {
		return pipTooOld
	}
	return pipValid
}

// MinimumSeedVersion is the oldest pip a fresh environment may carry. The
// baseline understands the modern hook protocol and manylinux1; macOS 11
// changed the platform tagging scheme, so environments there need the first
// release aware of it, and Apple Silicon the first release with its wheels.
func MinimumSeedVersion() string {
	return minimumSeedVersion(runtime.GOOS, runtime.GOARCH)
}

func minimumSeedVersion(goos, goarch string) string {
	if global.IsAppleSilicon(goos, goarch) {
		return "21.0.1"
	}
	if goos == "darwin" {
		return "20.3.0"
	}
	return "19.1.0"
}

// Uv installs with "uv pip install" bound to the environment root. It is
// opt-in: the provisioner never selects it on its own.
type Uv struct {
	Console *console.Console
	// ExtraEnviron is merged into the subprocess environment.
	ExtraEnviron []string
}

func (u *Uv) Install(ctx context.Context, env Env, reqsFile string) error {
	uv, err := exec.LookPath("uv")
	if err != nil {
		return fmt.Errorf("uv requested but not found on PATH: %w", err)
	}
	absReqs, err := filepath.Abs(reqsFile)
	if err != nil {
		return err
	}

	cmd := []string{"pip"}
	if u.Console.Verbose() {
		// uv doesn't support doubling up -v unlike pip.
		cmd = append(cmd, "-v")
	}
	cmd = append(cmd, "install", "-r", absReqs)

	extra := u.ExtraEnviron
	if env != nil {
		extra = append(append([]string{}, extra...), "VIRTUAL_ENV="+env.Root())
	}
	out, err := shell.Run(ctx, u.Console, uv, cmd, shell.Options{ExtraEnviron: extra})
	if err != nil {
		return &Error{Installer: "uv", Output: out, Err: err}
	}
	return nil
}
