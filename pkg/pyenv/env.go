// Package pyenv provisions ephemeral isolated environments for builds and
// resolves their interpreter, script and library paths across platform
// quirks.
package pyenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pybuild/pybuild/pkg/console"
	"github.com/pybuild/pybuild/pkg/installer"
	"github.com/pybuild/pybuild/pkg/metadata"
	"github.com/pybuild/pybuild/pkg/requirements"
	"github.com/pybuild/pybuild/pkg/shell"
)

// Strategy selects how an environment is provisioned.
type Strategy string

const (
	// StrategyAuto picks virtualenv when usable, venv otherwise. uv is
	// never picked automatically.
	StrategyAuto       Strategy = ""
	StrategyVenv       Strategy = "venv"
	StrategyVirtualenv Strategy = "virtualenv"
	StrategyUv         Strategy = "uv"
)

// ParseStrategy parses a strategy name from the command line.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyAuto, StrategyVenv, StrategyVirtualenv, StrategyUv:
		return Strategy(s), nil
	}
	return StrategyAuto, fmt.Errorf("invalid environment strategy %q (choose venv, virtualenv or uv)", s)
}

func (s Strategy) label() string {
	switch s {
	case StrategyVirtualenv:
		return "virtualenv+pip"
	case StrategyUv:
		return "venv+uv"
	default:
		return "venv+pip"
	}
}

// IsolatedEnv is the narrow surface a build needs from an environment: where
// its interpreter lives and what to add to subprocess environments.
type IsolatedEnv interface {
	Executable() string
	MakeExtraEnviron() []string
}

type state int

const (
	stateIdle state = iota
	stateActive
	stateClosed
)

// DefaultIsolatedEnv owns one throwaway environment rooted in a temporary
// directory. An instance serves exactly one Create/Close cycle and is never
// shared between concurrent builds.
type DefaultIsolatedEnv struct {
	con          *console.Console
	strategy     Strategy
	python       string
	extraEnviron []string
	inst         installer.Installer

	host       *Interpreter
	chosen     Strategy
	root       string
	executable string
	scriptsDir string
	purelib    string
	state      state
}

// Option configures a DefaultIsolatedEnv.
type Option func(*DefaultIsolatedEnv)

// WithStrategy forces a provisioning strategy instead of auto-selection.
func WithStrategy(s Strategy) Option {
	return func(e *DefaultIsolatedEnv) { e.strategy = s }
}

// WithInterpreter overrides the host interpreter used for provisioning.
func WithInterpreter(exe string) Option {
	return func(e *DefaultIsolatedEnv) { e.python = exe }
}

// WithExtraEnviron adds variables to every subprocess the environment runs.
func WithExtraEnviron(env []string) Option {
	return func(e *DefaultIsolatedEnv) { e.extraEnviron = env }
}

// WithInstaller overrides the installer derived from the strategy.
func WithInstaller(inst installer.Installer) Option {
	return func(e *DefaultIsolatedEnv) { e.inst = inst }
}

// New returns an unprovisioned environment. Call Create before use and Close
// on every exit path.
func New(con *console.Console, opts ...Option) *DefaultIsolatedEnv {
	e := &DefaultIsolatedEnv{con: con}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create provisions the environment. It fails with ErrActive, before
// allocating anything, when the instance already served a Create, and with
// ProvisionError, after removing the partial root, when no strategy
// produces a usable interpreter.
func (e *DefaultIsolatedEnv) Create(ctx context.Context) (err error) {
	if e.state != stateIdle {
		return ErrActive
	}

	exe := e.python
	if exe == "" {
		if exe, err = FindInterpreter(); err != nil {
			return &ProvisionError{Strategy: e.strategy, Err: err}
		}
	}
	host, err := ProbeInterpreter(ctx, e.con, exe)
	if err != nil {
		return &ProvisionError{Strategy: e.strategy, Err: err}
	}
	e.host = host

	root, err := os.MkdirTemp("", "pybuild-env-")
	if err != nil {
		return &ProvisionError{Strategy: e.strategy, Err: err}
	}
	// Resolve symlinks so the layout reported by the interpreter matches the
	// paths the environment was created under (macOS tempdirs are symlinked).
	if resolved, rerr := filepath.EvalSymlinks(root); rerr == nil {
		root = resolved
	}
	e.root = root

	defer func() {
		if err != nil {
			os.RemoveAll(root)
			e.root = ""
		}
	}()

	strategy := e.strategy
	if strategy == StrategyAuto {
		strategy = StrategyVenv
		if e.virtualenvUsable(ctx) {
			strategy = StrategyVirtualenv
		}
	}
	e.chosen = strategy
	e.con.Infof("Creating isolated environment: %s...", strategy.label())

	outerPip := installer.HasValidOuterPip(host.SearchPaths)

	var args []string
	switch strategy {
	case StrategyVenv:
		args = []string{"-m", "venv"}
		if outerPip {
			args = append(args, "--without-pip")
		}
	case StrategyVirtualenv:
		args = []string{"-m", "virtualenv", "--activators", ""}
		if outerPip {
			args = append(args, "--no-seed")
		} else {
			args = append(args, "--no-setuptools", "--no-wheel")
		}
	case StrategyUv:
		args = []string{"-m", "venv", "--without-pip"}
	default:
		return &ProvisionError{Strategy: strategy, Err: fmt.Errorf("unknown strategy %q", strategy)}
	}
	args = append(args, root)

	out, err := shell.Run(ctx, e.con, host.Executable, args, shell.Options{ExtraEnviron: e.extraEnviron})
	if err != nil {
		return &ProvisionError{Strategy: strategy, Output: out, Err: err}
	}

	layout, err := probeLayout(ctx, e.con, host.Executable, root)
	if err != nil {
		return &ProvisionError{Strategy: strategy, Err: err}
	}
	if _, serr := os.Stat(layout.Executable); serr != nil {
		return &ProvisionError{Strategy: strategy, Err: fmt.Errorf("environment creation failed, executable %s missing", layout.Executable)}
	}
	e.executable = layout.Executable
	e.scriptsDir = layout.Scripts
	e.purelib = layout.Purelib

	if strategy == StrategyVenv && !outerPip {
		if err = e.fixSeedPip(ctx); err != nil {
			return err
		}
	}

	e.state = stateActive
	return nil
}

// fixSeedPip upgrades an environment's seeded pip when it predates the
// platform minimum, and removes the seeded setuptools so the backend's own
// requirement declarations are authoritative.
func (e *DefaultIsolatedEnv) fixSeedPip(ctx context.Context) error {
	minimum := "pip>=" + installer.MinimumSeedVersion()
	req, err := requirements.Parse(minimum)
	if err != nil {
		return err
	}
	dist, err := metadata.Lookup([]string{e.purelib}, "pip")
	if err != nil {
		return err
	}
	if dist == nil || !req.SatisfiedBy(dist.Version) {
		out, rerr := shell.Run(ctx, e.con, e.executable, []string{"-Im", "pip", "install", minimum}, shell.Options{ExtraEnviron: e.extraEnviron})
		if rerr != nil {
			return &ProvisionError{Strategy: e.chosen, Output: out, Err: rerr}
		}
	}
	out, rerr := shell.Run(ctx, e.con, e.executable, []string{"-Im", "pip", "uninstall", "-y", "setuptools"}, shell.Options{ExtraEnviron: e.extraEnviron})
	if rerr != nil {
		return &ProvisionError{Strategy: e.chosen, Output: out, Err: rerr}
	}
	return nil
}

// virtualenvUsable probes whether the host virtualenv is importable and
// self-consistent: a virtualenv pulled in by an incompatible install, with
// parts of its dependency closure missing, must not be trusted.
func (e *DefaultIsolatedEnv) virtualenvUsable(ctx context.Context) bool {
	if _, err := shell.Run(ctx, e.con, e.host.Executable, []string{"-c", "import virtualenv"}, shell.Options{}); err != nil {
		return false
	}
	unmet, err := metadata.CheckDependencies(e.host.SearchPaths, MarkerEnvironment(e.host), []string{"virtualenv>=20.0.1"})
	return err == nil && len(unmet) == 0
}

// MarkerEnvironment derives the marker variables for requirement evaluation
// against a probed interpreter.
func MarkerEnvironment(host *Interpreter) requirements.Environment {
	env := requirements.HostEnvironment()
	env.PythonVersion = host.Version
	return env
}

// Host returns the probed host interpreter the environment was (or will be)
// provisioned from.
func (e *DefaultIsolatedEnv) Host() *Interpreter {
	return e.host
}

// Executable is the environment's interpreter path.
func (e *DefaultIsolatedEnv) Executable() string {
	return e.executable
}

// Root is the environment's filesystem root.
func (e *DefaultIsolatedEnv) Root() string {
	return e.root
}

// MakeExtraEnviron prepends the environment's script directory to PATH so
// subprocesses resolve its console scripts first.
func (e *DefaultIsolatedEnv) MakeExtraEnviron() []string {
	path := e.scriptsDir
	if existing := os.Getenv("PATH"); existing != "" {
		path += string(os.PathListSeparator) + existing
	}
	return []string{"PATH=" + path}
}

// Install installs the given requirement specifiers into the environment.
// An empty set is a no-op. The specifiers are passed to the installer via a
// temporary requirements file which is removed whether or not the install
// succeeds.
func (e *DefaultIsolatedEnv) Install(ctx context.Context, reqs []string) error {
	if e.state != stateActive {
		return fmt.Errorf("environment is not provisioned")
	}
	if len(reqs) == 0 {
		return nil
	}

	sorted := append([]string{}, reqs...)
	sort.Strings(sorted)
	e.con.Infof("Installing packages in isolated environment:\n- %s", strings.Join(sorted, "\n- "))

	f, err := os.CreateTemp("", "pybuild-reqs-*.txt")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)

	if err := requirements.WriteFile(name, sorted); err != nil {
		return err
	}
	return e.installer().Install(ctx, e, name)
}

func (e *DefaultIsolatedEnv) installer() installer.Installer {
	if e.inst != nil {
		return e.inst
	}
	if e.chosen == StrategyUv {
		return &installer.Uv{Console: e.con, ExtraEnviron: e.extraEnviron}
	}
	return &installer.Pip{
		Console:      e.con,
		Python:       e.host.Executable,
		SearchPaths:  e.host.SearchPaths,
		ExtraEnviron: e.extraEnviron,
	}
}

// Close removes the environment root. It is safe on every exit path,
// including after a failed Create, and is idempotent. The instance cannot be
// re-created afterwards.
func (e *DefaultIsolatedEnv) Close() error {
	if e.state == stateActive {
		e.state = stateClosed
	}
	if e.root == "" {
		return nil
	}
	root := e.root
	e.root = ""
	return os.RemoveAll(root)
}
