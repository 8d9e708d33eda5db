// Package backend invokes the hooks of an external build backend inside a
// chosen environment's interpreter, never in the frontend's own process,
// so the backend sees exactly the tool versions installed for the build.
package backend

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pybuild/pybuild/pkg/console"
	"github.com/pybuild/pybuild/pkg/shell"
)

//go:embed hook_runner.py
var hookRunner []byte

// Hook names one backend hook. Dispatch is over this fixed set; a hook the
// backend does not provide yields ErrHookUnsupported, distinct from a hook
// that raised.
type Hook string

const (
	HookGetRequiresForBuildSdist     Hook = "get_requires_for_build_sdist"
	HookGetRequiresForBuildWheel     Hook = "get_requires_for_build_wheel"
	HookBuildSdist                   Hook = "build_sdist"
	HookBuildWheel                   Hook = "build_wheel"
	HookPrepareMetadataForBuildWheel Hook = "prepare_metadata_for_build_wheel"
)

// ConfigSettings are forwarded to every hook uninterpreted. Values are
// strings or lists of strings.
type ConfigSettings map[string]interface{}

// Runner calls the hooks of one project's backend with one interpreter.
type Runner struct {
	// SourceDir is the project tree the backend operates on; hooks run with
	// it as their working directory.
	SourceDir string
	// Backend references the backend object, e.g. "flit_core.buildapi".
	Backend string
	// BackendPath holds in-tree import paths for self-hosted backends.
	BackendPath []string
	// Python is the interpreter the hooks run under.
	Python string
	// ExtraEnviron is merged into the hook subprocess environment.
	ExtraEnviron []string
	// Console receives subprocess echo in verbose mode.
	Console *console.Console
}

type hookControl struct {
	Backend     string                 `json:"backend"`
	BackendPath []string               `json:"backend_path,omitempty"`
	Hook        Hook                   `json:"hook"`
	Kwargs      map[string]interface{} `json:"kwargs"`
}

type hookResult struct {
	Return      json.RawMessage `json:"return"`
	Unsupported bool            `json:"unsupported"`
	Error       *string         `json:"error"`
}

// Call invokes one hook with the given keyword arguments and decodes its
// return value into out (pass nil to discard it).
func (r *Runner) Call(ctx context.Context, hook Hook, kwargs map[string]interface{}, out interface{}) error {
	scratch, err := os.MkdirTemp("", "pybuild-hook-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	runnerPath := filepath.Join(scratch, "hook_runner.py")
	if err := os.WriteFile(runnerPath, hookRunner, 0o644); err != nil {
		return err
	}

	control := hookControl{
		Backend:     r.Backend,
		BackendPath: r.BackendPath,
		Hook:        hook,
		Kwargs:      kwargs,
	}
	controlPath := filepath.Join(scratch, "control.json")
	payload, err := json.Marshal(control)
	if err != nil {
		return err
	}
	if err := os.WriteFile(controlPath, payload, 0o644); err != nil {
		return err
	}
	resultPath := filepath.Join(scratch, "result.json")

	output, runErr := shell.Run(ctx, r.Console, r.Python, []string{runnerPath, controlPath, resultPath}, shell.Options{
		Dir:          r.SourceDir,
		ExtraEnviron: r.ExtraEnviron,
	})

	raw, readErr := os.ReadFile(resultPath)
	if readErr != nil {
		if runErr == nil {
			runErr = readErr
		}
		return &ProcessError{Hook: hook, Output: output, Err: runErr}
	}
	var result hookResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return &ProcessError{Hook: hook, Output: output, Err: fmt.Errorf("unreadable hook result: %w", err)}
	}

	switch {
	case result.Unsupported:
		return fmt.Errorf("%s: %w", hook, ErrHookUnsupported)
	case result.Error != nil:
		return &HookError{Hook: hook, Traceback: *result.Error}
	case runErr != nil:
		return &ProcessError{Hook: hook, Output: output, Err: runErr}
	}

	if out != nil && len(result.Return) > 0 {
		if err := json.Unmarshal(result.Return, out); err != nil {
			return &ProcessError{Hook: hook, Output: output, Err: fmt.Errorf("undecodable hook return value: %w", err)}
		}
	}
	return nil
}

// GetRequires runs a get_requires_for_build_* hook. A backend without the
// hook declares no extra requirements.
func (r *Runner) GetRequires(ctx context.Context, hook Hook, settings ConfigSettings) ([]string, error) {
	var reqs []string
	err := r.Call(ctx, hook, map[string]interface{}{
		"config_settings": settingsArg(settings),
	}, &reqs)
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// Build runs a build_* hook and returns the artifact basename the backend
// reports.
func (r *Runner) Build(ctx context.Context, hook Hook, outputDir string, settings ConfigSettings) (string, error) {
	kwargs := map[string]interface{}{
		"config_settings": settingsArg(settings),
	}
	switch hook {
	case HookBuildSdist:
		kwargs["sdist_directory"] = outputDir
	default:
		kwargs["wheel_directory"] = outputDir
	}
	var basename string
	if err := r.Call(ctx, hook, kwargs, &basename); err != nil {
		return "", err
	}
	return basename, nil
}

// PrepareMetadata runs the optional metadata hook and returns the basename
// of the produced metadata directory.
func (r *Runner) PrepareMetadata(ctx context.Context, destDir string, settings ConfigSettings) (string, error) {
	var basename string
	err := r.Call(ctx, HookPrepareMetadataForBuildWheel, map[string]interface{}{
		"metadata_directory": destDir,
		"config_settings":    settingsArg(settings),
	}, &basename)
	if err != nil {
		return "", err
	}
	return basename, nil
}

// Backends distinguish "no settings" (None) from an empty mapping.
func settingsArg(settings ConfigSettings) interface{} {
	if settings == nil {
		return nil
	}
	return map[string]interface{}(settings)
}
