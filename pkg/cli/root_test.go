package cli

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pybuild/pybuild/pkg/backend"
	"github.com/pybuild/pybuild/pkg/console"
)

func TestMapConfigSettings(t *testing.T) {
	require.Nil(t, mapConfigSettings(nil))

	settings := mapConfigSettings([]string{"flag", "key=value"})
	require.Equal(t, backend.ConfigSettings{"flag": "", "key": "value"}, settings)

	settings = mapConfigSettings([]string{"opt=a", "opt=b", "opt=c"})
	require.Equal(t, backend.ConfigSettings{"opt": []string{"a", "b", "c"}}, settings)
}

func TestColorEnabled(t *testing.T) {
	con := console.New(console.InfoLevel)

	t.Setenv("NO_COLOR", "1")
	require.False(t, colorEnabled(con))

	t.Setenv("FORCE_COLOR", "1")
	require.False(t, colorEnabled(con))
}

func TestColorEnabledForced(t *testing.T) {
	con := console.New(console.InfoLevel)
	t.Setenv("FORCE_COLOR", "1")
	require.True(t, colorEnabled(con))
}

func TestSubprocessColorEnviron(t *testing.T) {
	con := console.New(console.InfoLevel)

	con.Color = false
	require.Nil(t, subprocessColorEnviron(con))

	con.Color = true
	require.Equal(t, []string{"FORCE_COLOR=1"}, subprocessColorEnviron(con))
}

func TestSuccessMessage(t *testing.T) {
	con := console.New(console.InfoLevel)
	con.Color = false

	require.Equal(t, "Successfully built demo-1.0.tar.gz", successMessage(con, []string{"demo-1.0.tar.gz"}))
	require.Equal(t, "Successfully built a and b", successMessage(con, []string{"a", "b"}))
}

func TestNaturalList(t *testing.T) {
	require.Equal(t, "", naturalList(nil))
	require.Equal(t, "x", naturalList([]string{"x"}))
	require.Equal(t, "x, y and z", naturalList([]string{"x", "y", "z"}))
}

func TestChooseInstaller(t *testing.T) {
	con := console.New(console.InfoLevel)

	for _, name := range []string{"", "pip"} {
		installerFlag = name
		inst, err := chooseInstaller(con)
		require.NoError(t, err)
		require.Nil(t, inst)
	}

	installerFlag = "uv"
	inst, err := chooseInstaller(con)
	require.NoError(t, err)
	require.NotNil(t, inst)

	installerFlag = "conda"
	_, err = chooseInstaller(con)
	require.ErrorContains(t, err, `invalid installer "conda"`)
	installerFlag = ""
}

func TestRejectsEnvStrategyWithNoIsolation(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--no-isolation", "--env-strategy", "uv", "."})
	err := cmd.Execute()
	require.ErrorContains(t, err, "--env-strategy cannot be combined with --no-isolation")
}

func TestRejectsInvalidEnvStrategy(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--env-strategy", "conda", "."})
	err := cmd.Execute()
	require.ErrorContains(t, err, "invalid environment strategy")
}
