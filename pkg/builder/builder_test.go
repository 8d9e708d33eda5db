package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/pybuild/pybuild/pkg/console"
)

type fakeEnv struct {
	executable string
}

func (e *fakeEnv) Executable() string         { return e.executable }
func (e *fakeEnv) MakeExtraEnviron() []string { return []string{"PYBUILD_FAKE=1"} }

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := `[build-system]
requires = ["flit_core >= 3.2"]
build-backend = "flit_core.buildapi"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(body), 0o644))
	return dir
}

func stubPython(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	exe := filepath.Join(t.TempDir(), "python")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"+script), 0o755))
	return exe
}

func newTestBuilder(t *testing.T, script string) *ProjectBuilder {
	t.Helper()
	env := &fakeEnv{executable: stubPython(t, script)}
	b, err := FromIsolatedEnv(env, writeProject(t), console.New(console.InfoLevel), nil)
	require.NoError(t, err)
	return b
}

// writeWheel creates a minimal wheel archive carrying only its metadata tree.
func writeWheel(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := zip.NewWriter(f)
	entry, err := w.Create("demo-1.0.dist-info/METADATA")
	require.NoError(t, err)
	_, err = entry.Write([]byte("Metadata-Version: 2.1\nName: demo\nVersion: 1.0\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestParseDistribution(t *testing.T) {
	for _, name := range []string{"sdist", "wheel"} {
		dist, err := ParseDistribution(name)
		require.NoError(t, err)
		require.Equal(t, Distribution(name), dist)
	}

	_, err := ParseDistribution("egg")
	require.ErrorContains(t, err, `invalid distribution "egg"`)
}

func TestBuildSystemRequires(t *testing.T) {
	b := newTestBuilder(t, "exit 1\n")
	require.Equal(t, []string{"flit_core >= 3.2"}, b.BuildSystemRequires())
}

func TestBuild(t *testing.T) {
	b := newTestBuilder(t, `printf '%s' '{"return": "demo-1.0.tar.gz"}' > "$3"`+"\n")

	outDir := filepath.Join(t.TempDir(), "dist")
	artifact, err := b.Build(context.Background(), Sdist, outDir, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(outDir, "demo-1.0.tar.gz"), artifact)
	require.DirExists(t, outDir)
}

func TestGetRequiresForBuild(t *testing.T) {
	b := newTestBuilder(t, `printf '%s' '{"return": ["setuptools_scm"]}' > "$3"`+"\n")
	reqs, err := b.GetRequiresForBuild(context.Background(), Wheel, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"setuptools_scm"}, reqs)
}

func TestGetRequiresForBuildUnsupportedHook(t *testing.T) {
	b := newTestBuilder(t, `printf '%s' '{"unsupported": true}' > "$3"`+"\n")
	reqs, err := b.GetRequiresForBuild(context.Background(), Sdist, nil)
	require.NoError(t, err)
	require.Empty(t, reqs)
}

func TestMetadataPath(t *testing.T) {
	script := `meta_dir=$(sed -n 's/.*"metadata_directory":"\([^"]*\)".*/\1/p' "$2")
mkdir -p "$meta_dir/demo-1.0.dist-info"
printf '%s' '{"return": "demo-1.0.dist-info"}' > "$3"
`
	b := newTestBuilder(t, script)

	destDir := filepath.Join(t.TempDir(), "meta")
	path, err := b.MetadataPath(context.Background(), destDir, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(destDir, "demo-1.0.dist-info"), path)
	require.DirExists(t, path)
}

// metadataFallbackScript answers the metadata hook as unsupported and serves
// the wheel build from a canned archive.
func metadataFallbackScript(wheelSrc string) string {
	return fmt.Sprintf(`hook=$(sed -n 's/.*"hook":"\([^"]*\)".*/\1/p' "$2")
if [ "$hook" = "prepare_metadata_for_build_wheel" ]; then
    printf '%%s' '{"unsupported": true}' > "$3"
else
    wheel_dir=$(sed -n 's/.*"wheel_directory":"\([^"]*\)".*/\1/p' "$2")
    cp %q "$wheel_dir/demo-1.0-py3-none-any.whl"
    printf '%%s' '{"return": "demo-1.0-py3-none-any.whl"}' > "$3"
fi
`, wheelSrc)
}

func TestMetadataPathFallsBackToWheelBuild(t *testing.T) {
	wheelSrc := filepath.Join(t.TempDir(), "demo-1.0-py3-none-any.whl")
	writeWheel(t, wheelSrc)
	b := newTestBuilder(t, metadataFallbackScript(wheelSrc))

	destDir := filepath.Join(t.TempDir(), "meta")
	path, err := b.MetadataPath(context.Background(), destDir, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(destDir, "demo-1.0.dist-info"), path)
	require.FileExists(t, filepath.Join(path, "METADATA"))

	// Only the dist-info lands in destDir; the unpack staging is cleaned up.
	entries, err := os.ReadDir(destDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMetadataPathFallbackDestOnDifferentFilesystem(t *testing.T) {
	// /dev/shm and /tmp are separate mounts on most Linux hosts, so the
	// scratch wheel build and destDir end up on different filesystems.
	if fi, err := os.Stat("/dev/shm"); err != nil || !fi.IsDir() {
		t.Skip("needs /dev/shm")
	}
	t.Setenv("TMPDIR", "/dev/shm")

	destDir, err := os.MkdirTemp("/tmp", "pybuild-meta-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(destDir) })

	wheelSrc := filepath.Join(t.TempDir(), "demo-1.0-py3-none-any.whl")
	writeWheel(t, wheelSrc)
	b := newTestBuilder(t, metadataFallbackScript(wheelSrc))

	path, err := b.MetadataPath(context.Background(), destDir, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(destDir, "demo-1.0.dist-info"), path)
	require.FileExists(t, filepath.Join(path, "METADATA"))
}

func TestCheckDependenciesReportsMissing(t *testing.T) {
	b := newTestBuilder(t, `printf '%s' '{"return": []}' > "$3"`+"\n")

	unmet, err := b.CheckDependencies(context.Background(), Wheel, nil)
	require.NoError(t, err)
	require.Len(t, unmet, 1)
	require.Equal(t, []string{"flit_core >= 3.2"}, []string(unmet[0]))
}
