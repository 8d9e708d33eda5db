package pyenv

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/pybuild/pybuild/pkg/console"
	"github.com/pybuild/pybuild/pkg/shell"
)

// Interpreter describes a probed host interpreter: the facts the frontend
// needs before it can provision environments or check dependencies.
type Interpreter struct {
	Executable  string
	Version     string   // "3.12"
	SearchPaths []string // sys.path, where installed metadata lives
}

// FindInterpreter locates the host interpreter on PATH.
func FindInterpreter() (string, error) {
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no python interpreter found on PATH")
}

const interpreterProbeScript = `import json, sys
json.dump({"version": "%d.%d" % sys.version_info[:2], "paths": [p for p in sys.path if p]}, sys.stdout)
`

// ProbeInterpreter asks an interpreter for its version and metadata search
// paths. Probes are recomputed per call rather than cached for the process
// lifetime, so a tool installed after startup is visible to the next build.
func ProbeInterpreter(ctx context.Context, con *console.Console, exe string) (*Interpreter, error) {
	out, err := shell.Run(ctx, con, exe, []string{"-I", "-c", interpreterProbeScript}, shell.Options{})
	if err != nil {
		return nil, fmt.Errorf("probing interpreter %s: %w", exe, err)
	}
	var probe struct {
		Version string   `json:"version"`
		Paths   []string `json:"paths"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("probing interpreter %s: %w", exe, err)
	}
	return &Interpreter{Executable: exe, Version: probe.Version, SearchPaths: probe.Paths}, nil
}

// The layout probe expands the interpreter's install schemes for a new
// environment root. The "venv" scheme is preferred; hosts that define only
// the Debian ("posix_local") or macOS framework ("osx_framework_library")
// variants get "posix_prefix", which is venv-compatible there; anything else
// falls back to the platform default scheme.
const layoutProbeScript = `import json, os, sys, sysconfig
base = sys.argv[1]
vars = sysconfig.get_config_vars().copy()
vars["base"] = vars["platbase"] = base
names = sysconfig.get_scheme_names()
if "venv" in names:
    paths = sysconfig.get_paths(scheme="venv", vars=vars)
elif "posix_local" in names or "osx_framework_library" in names:
    paths = sysconfig.get_paths(scheme="posix_prefix", vars=vars)
else:
    paths = sysconfig.get_paths(vars=vars)
exe = os.path.join(paths["scripts"], "python.exe" if os.name == "nt" else "python")
json.dump({"executable": exe, "scripts": paths["scripts"], "purelib": paths["purelib"]}, sys.stdout)
`

type envLayout struct {
	Executable string `json:"executable"`
	Scripts    string `json:"scripts"`
	Purelib    string `json:"purelib"`
}

func probeLayout(ctx context.Context, con *console.Console, exe, root string) (*envLayout, error) {
	out, err := shell.Run(ctx, con, exe, []string{"-I", "-c", layoutProbeScript, root}, shell.Options{})
	if err != nil {
		return nil, fmt.Errorf("resolving environment layout: %w", err)
	}
	var layout envLayout
	if err := json.Unmarshal(out, &layout); err != nil {
		return nil, fmt.Errorf("resolving environment layout: %w", err)
	}
	return &layout, nil
}
