package pipeline

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"

	"github.com/pybuild/pybuild/pkg/builder"
	"github.com/pybuild/pybuild/pkg/console"
)

const pyprojectBody = `[build-system]
requires = ["flit_core >= 3.2"]
build-backend = "flit_core.buildapi"
`

// The stub backend writes build_sdist and build_wheel invocations to the log
// file named by PYBUILD_TEST_LOG, tagging wheel builds with whether the
// working tree came from an extracted sdist.
const stubScript = `#!/bin/sh
case "$1" in
-I)
    printf '{"version": "3.12", "paths": []}'
    ;;
*)
    hook=$(sed -n 's/.*"hook":"\([^"]*\)".*/\1/p' "$2")
    case "$hook" in
    build_sdist)
        dir=$(sed -n 's/.*"sdist_directory":"\([^"]*\)".*/\1/p' "$2")
        cp "$PYBUILD_TEST_SDIST" "$dir/demo-1.0.tar.gz"
        echo "sdist" >> "$PYBUILD_TEST_LOG"
        printf '%s' '{"return": "demo-1.0.tar.gz"}' > "$3"
        ;;
    build_wheel)
        dir=$(sed -n 's/.*"wheel_directory":"\([^"]*\)".*/\1/p' "$2")
        marker="absent"
        [ -f from_sdist.txt ] && marker="present"
        echo "wheel $marker" >> "$PYBUILD_TEST_LOG"
        : > "$dir/demo-1.0-py3-none-any.whl"
        printf '%s' '{"return": "demo-1.0-py3-none-any.whl"}' > "$3"
        ;;
    *)
        printf '%s' '{"return": []}' > "$3"
        ;;
    esac
    ;;
esac
`

type stubBuild struct {
	srcDir  string
	outDir  string
	logFile string
	con     *console.Console
}

// setupStubBuild writes a project tree, a canned sdist tarball, and a stub
// python3 on PATH that answers probes and backend hooks.
func setupStubBuild(t *testing.T) *stubBuild {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "pyproject.toml"), []byte(pyprojectBody), 0o644))

	// The sdist tree carries a marker the source tree lacks, so the stub can
	// tell which tree a wheel was built from.
	sdist := filepath.Join(t.TempDir(), "demo-1.0.tar.gz")
	writeSdist(t, sdist, map[string]string{
		"demo-1.0/pyproject.toml": pyprojectBody,
		"demo-1.0/from_sdist.txt": "yes\n",
	})

	binDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "python3"), []byte(stubScript), 0o755))
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	logFile := filepath.Join(t.TempDir(), "hooks.log")
	t.Setenv("PYBUILD_TEST_LOG", logFile)
	t.Setenv("PYBUILD_TEST_SDIST", sdist)

	return &stubBuild{
		srcDir:  srcDir,
		outDir:  filepath.Join(t.TempDir(), "dist"),
		logFile: logFile,
		con:     console.New(console.InfoLevel),
	}
}

func writeSdist(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}))
		_, err = tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func (s *stubBuild) hookLog(t *testing.T) []string {
	t.Helper()
	body, err := os.ReadFile(s.logFile)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(body)), "\n")
}

func (s *stubBuild) options(dists ...builder.Distribution) Options {
	return Options{
		SourceDir:           s.srcDir,
		Distributions:       dists,
		OutputDir:           s.outDir,
		NoIsolation:         true,
		SkipDependencyCheck: true,
		Console:             s.con,
	}
}

func TestBuildDefaultIsSdistThenWheelFromSdist(t *testing.T) {
	s := setupStubBuild(t)

	built, err := Build(context.Background(), s.options())
	require.NoError(t, err)
	require.Equal(t, []string{"demo-1.0.tar.gz", "demo-1.0-py3-none-any.whl"}, built)

	require.FileExists(t, filepath.Join(s.outDir, "demo-1.0.tar.gz"))
	require.FileExists(t, filepath.Join(s.outDir, "demo-1.0-py3-none-any.whl"))

	// The wheel must come from the extracted sdist tree, not the source tree.
	require.Equal(t, []string{"sdist", "wheel present"}, s.hookLog(t))
}

func TestBuildExplicitDistributionsUseSourceTree(t *testing.T) {
	s := setupStubBuild(t)

	built, err := Build(context.Background(), s.options(builder.Wheel))
	require.NoError(t, err)
	require.Equal(t, []string{"demo-1.0-py3-none-any.whl"}, built)
	require.Equal(t, []string{"wheel absent"}, s.hookLog(t))
}

func TestBuildDirectSdistAndWheel(t *testing.T) {
	s := setupStubBuild(t)

	built, err := Build(context.Background(), s.options(builder.Sdist, builder.Wheel))
	require.NoError(t, err)
	require.Equal(t, []string{"demo-1.0.tar.gz", "demo-1.0-py3-none-any.whl"}, built)

	// Both builds run against the original source tree, not an extraction.
	require.Equal(t, []string{"sdist", "wheel absent"}, s.hookLog(t))
}

func TestBuildPackageViaSdistRejectsSdist(t *testing.T) {
	s := setupStubBuild(t)

	_, err := BuildPackageViaSdist(context.Background(), s.options(), []builder.Distribution{builder.Sdist, builder.Wheel})
	require.ErrorIs(t, err, ErrSdistViaSdist)
	require.Empty(t, s.hookLog(t))
}

func TestBuildPackageViaSdistBuildsSdistOnce(t *testing.T) {
	s := setupStubBuild(t)

	built, err := BuildPackageViaSdist(context.Background(), s.options(), []builder.Distribution{builder.Wheel})
	require.NoError(t, err)
	require.Equal(t, []string{"demo-1.0.tar.gz", "demo-1.0-py3-none-any.whl"}, built)

	log := s.hookLog(t)
	sdists := 0
	for _, line := range log {
		if line == "sdist" {
			sdists++
		}
	}
	require.Equal(t, 1, sdists)
}

func TestBuildPackageViaSdistNoBinaries(t *testing.T) {
	s := setupStubBuild(t)

	built, err := BuildPackageViaSdist(context.Background(), s.options(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"demo-1.0.tar.gz"}, built)
	require.Equal(t, []string{"sdist"}, s.hookLog(t))
}

func TestBuildReportsUnmetDependencies(t *testing.T) {
	s := setupStubBuild(t)
	opts := s.options(builder.Wheel)
	opts.SkipDependencyCheck = false

	_, err := Build(context.Background(), opts)
	var uerr *builder.UnmetDependenciesError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, []string{"flit_core >= 3.2"}, []string(uerr.Unmet[0]))
}

func TestOutputDirDefault(t *testing.T) {
	opts := Options{SourceDir: "/work/demo"}
	require.Equal(t, filepath.Join("/work/demo", "dist"), opts.outputDir())

	opts.OutputDir = "/out"
	require.Equal(t, "/out", opts.outputDir())
}

func TestNaturalLanguageList(t *testing.T) {
	require.Equal(t, "", naturalLanguageList(nil))
	require.Equal(t, "wheel", naturalLanguageList([]string{"wheel"}))
	require.Equal(t, "sdist and wheel", naturalLanguageList([]string{"sdist", "wheel"}))
	require.Equal(t, "a, b and c", naturalLanguageList([]string{"a", "b", "c"}))
}
