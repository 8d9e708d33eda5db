// Package cli maps the command line onto the build pipeline and renders its
// errors.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pybuild/pybuild/pkg/backend"
	"github.com/pybuild/pybuild/pkg/builder"
	"github.com/pybuild/pybuild/pkg/console"
	"github.com/pybuild/pybuild/pkg/global"
	"github.com/pybuild/pybuild/pkg/installer"
	"github.com/pybuild/pybuild/pkg/pipeline"
	"github.com/pybuild/pybuild/pkg/pyenv"
)

var (
	sdistFlag           bool
	wheelFlag           bool
	outdirFlag          string
	skipDependencyCheck bool
	noIsolation         bool
	envStrategyFlag     string
	installerFlag       string
	configSettingsFlag  []string
	verboseFlag         int
)

// NewRootCommand constructs the pybuild command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pybuild [srcdir]",
		Short: "A simple, correct build frontend",
		Long: `A simple, correct build frontend.

By default, a source distribution (sdist) is built from the source directory
and a binary distribution (wheel) is built from the sdist. This is
recommended as it ensures the sdist can be used to build wheels.

Pass -s/--sdist and/or -w/--wheel to build a specific distribution. If you do
this, the default behavior is disabled and all artifacts are built from the
source directory.`,
		Version:       fmt.Sprintf("%s (built %s)", global.Version, global.BuildTime),
		Args:          cobra.MaximumNArgs(1),
		RunE:          buildCommand,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolVarP(&sdistFlag, "sdist", "s", false, "build a source distribution (disables the default behavior)")
	cmd.Flags().BoolVarP(&wheelFlag, "wheel", "w", false, "build a wheel (disables the default behavior)")
	cmd.Flags().StringVarP(&outdirFlag, "outdir", "o", "", "output directory (defaults to {srcdir}/dist)")
	cmd.Flags().BoolVarP(&skipDependencyCheck, "skip-dependency-check", "x", false, "do not check that build dependencies are installed")
	cmd.Flags().BoolVarP(&noIsolation, "no-isolation", "n", false, "disable building the project in an isolated environment; build dependencies must be installed separately")
	cmd.Flags().StringVar(&envStrategyFlag, "env-strategy", "", "isolated environment strategy: venv, virtualenv or uv (defaults to virtualenv if usable, otherwise venv; uv is opt-in only)")
	cmd.Flags().StringVar(&installerFlag, "installer", "", "installer to use: pip or uv (defaults to pip)")
	cmd.Flags().StringArrayVarP(&configSettingsFlag, "config-setting", "C", nil, "settings to pass to the backend, KEY[=VALUE]; may be given multiple times")
	cmd.Flags().CountVarP(&verboseFlag, "verbose", "v", "increase verbosity")

	return cmd
}

func buildCommand(cmd *cobra.Command, args []string) error {
	srcDir := "."
	if len(args) == 1 {
		srcDir = args[0]
	}

	level := console.InfoLevel
	if verboseFlag > 0 {
		level = console.DebugLevel
	}
	con := console.New(level)
	con.Color = colorEnabled(con)

	strategy, err := pyenv.ParseStrategy(envStrategyFlag)
	if err != nil {
		renderError(con, err)
		return err
	}
	if noIsolation && strategy != pyenv.StrategyAuto {
		err := fmt.Errorf("--env-strategy cannot be combined with --no-isolation")
		renderError(con, err)
		return err
	}
	inst, err := chooseInstaller(con)
	if err != nil {
		renderError(con, err)
		return err
	}

	var dists []builder.Distribution
	if sdistFlag {
		dists = append(dists, builder.Sdist)
	}
	if wheelFlag {
		dists = append(dists, builder.Wheel)
	}

	opts := pipeline.Options{
		SourceDir:           srcDir,
		Distributions:       dists,
		OutputDir:           outdirFlag,
		ConfigSettings:      mapConfigSettings(configSettingsFlag),
		NoIsolation:         noIsolation,
		Strategy:            strategy,
		Installer:           inst,
		SkipDependencyCheck: skipDependencyCheck,
		ExtraEnviron:        subprocessColorEnviron(con),
		Console:             con,
	}

	built, err := pipeline.Build(cmd.Context(), opts)
	if err != nil {
		renderError(con, err)
		return err
	}

	con.Output(successMessage(con, built))
	return nil
}

// chooseInstaller maps --installer onto an installer override. Pip is the
// default and needs no override; the environment it targets knows how to
// construct one.
func chooseInstaller(con *console.Console) (installer.Installer, error) {
	switch installerFlag {
	case "", "pip":
		return nil, nil
	case "uv":
		return &installer.Uv{Console: con, ExtraEnviron: subprocessColorEnviron(con)}, nil
	}
	return nil, fmt.Errorf("invalid installer %q (choose pip or uv)", installerFlag)
}

// mapConfigSettings turns repeated KEY[=VALUE] arguments into config
// settings. A key given once maps to its value; a key given repeatedly
// accumulates every supplied value into a list.
func mapConfigSettings(args []string) backend.ConfigSettings {
	if len(args) == 0 {
		return nil
	}
	settings := backend.ConfigSettings{}
	for _, arg := range args {
		key, value, _ := strings.Cut(arg, "=")
		switch existing := settings[key].(type) {
		case nil:
			settings[key] = value
		case string:
			settings[key] = []string{existing, value}
		case []string:
			settings[key] = append(existing, value)
		}
	}
	return settings
}

// colorEnabled honors NO_COLOR and FORCE_COLOR over TTY detection.
func colorEnabled(con *console.Console) bool {
	_, noColor := os.LookupEnv("NO_COLOR")
	_, forceColor := os.LookupEnv("FORCE_COLOR")
	if noColor {
		if forceColor {
			con.Warn("Both NO_COLOR and FORCE_COLOR environment variables are set, disabling color")
		}
		return false
	}
	return forceColor || console.IsTTY(os.Stdout)
}

// subprocessColorEnviron instructs subprocess tooling to emit color-capable
// output when our own output is colored.
func subprocessColorEnviron(con *console.Console) []string {
	if con.Color {
		return []string{"FORCE_COLOR=1"}
	}
	return nil
}
