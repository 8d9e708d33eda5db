package requirements

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	req, err := Parse("setuptools >= 40.8.0")
	require.NoError(t, err)
	require.Equal(t, "setuptools", req.Name)
	require.Equal(t, []Constraint{{Op: ">=", Version: "40.8.0"}}, req.Constraints)
	require.Nil(t, req.Marker)

	req, err = Parse("wheel")
	require.NoError(t, err)
	require.Equal(t, "wheel", req.Name)
	require.Empty(t, req.Constraints)

	req, err = Parse("requests[security,socks] (>=2.8.1,!=2.9.*,<3)")
	require.NoError(t, err)
	require.Equal(t, "requests", req.Name)
	require.Equal(t, []string{"security", "socks"}, req.Extras)
	require.Len(t, req.Constraints, 3)

	req, err = Parse("tomli >= 1.1.0; python_version < '3.11'")
	require.NoError(t, err)
	require.Equal(t, "tomli", req.Name)
	require.NotNil(t, req.Marker)

	req, err = Parse("pip @ https://example.com/pip.zip")
	require.NoError(t, err)
	require.Equal(t, "pip", req.Name)
	require.Equal(t, "https://example.com/pip.zip", req.URL)
	require.Empty(t, req.Constraints)
}

func TestParseErrors(t *testing.T) {
	for _, spec := range []string{"", "   ", ">= 1.0", "name >=", "name ?? 1.0", "name[extra"} {
		_, err := Parse(spec)
		require.Error(t, err, "spec %q", spec)
	}
}

func TestCanonicalName(t *testing.T) {
	for _, tt := range []struct{ in, want string }{
		{"Flit-Core", "flit-core"},
		{"zope.interface", "zope-interface"},
		{"foo__bar", "foo-bar"},
		{"A.-_b", "a-b"},
		{"simple", "simple"},
	} {
		require.Equal(t, tt.want, CanonicalName(tt.in))
	}
}

func TestSatisfiedBy(t *testing.T) {
	for _, tt := range []struct {
		spec      string
		installed string
		want      bool
	}{
		{"pip >= 22.3", "23.0.1", true},
		{"pip >= 22.3", "21.1", false},
		{"pkg == 1.2.3", "1.2.3", true},
		{"pkg == 1.2.3", "1.2.4", false},
		{"pkg == 1.2.*", "1.2.9", true},
		{"pkg == 1.2.*", "1.3.0", false},
		{"pkg != 1.2.*", "1.3.0", true},
		{"pkg ~= 1.2.3", "1.2.9", true},
		{"pkg ~= 1.2.3", "1.3.0", false},
		{"pkg >=1.0,<2.0", "1.5", true},
		{"pkg >=1.0,<2.0", "2.0", false},
		{"pkg", "0.0.1", true},
		// Unparseable installed versions must not fail the check.
		{"pkg >= 1.0", "not-a-version", true},
	} {
		req, err := Parse(tt.spec)
		require.NoError(t, err, tt.spec)
		require.Equal(t, tt.want, req.SatisfiedBy(tt.installed), "%s vs %s", tt.spec, tt.installed)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reqs.txt")
	require.NoError(t, WriteFile(path, []string{"a >= 1.0", "b; python_version < '3.9'"}))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a >= 1.0\nb; python_version < '3.9'\n", string(contents))
}
