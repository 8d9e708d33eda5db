// Package metadata reads the metadata of installed distributions from
// site-packages style directories, and walks declared requirements to find
// unmet dependencies.
package metadata

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pybuild/pybuild/pkg/requirements"
)

// Distribution is the metadata of one installed package.
type Distribution struct {
	Name     string
	Version  string
	Requires []string
}

// Lookup finds an installed distribution by name, searching each path in
// order. It understands ".dist-info/METADATA" and ".egg-info/PKG-INFO"
// layouts. A nil result with nil error means the package is not installed.
func Lookup(paths []string, name string) (*Distribution, error) {
	want := requirements.CanonicalName(name)
	for _, dir := range paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			// Interpreter search paths routinely list directories that do
			// not exist; skip them like the interpreter does.
			continue
		}
		for _, entry := range entries {
			metaFile := ""
			switch {
			case strings.HasSuffix(entry.Name(), ".dist-info"):
				metaFile = filepath.Join(dir, entry.Name(), "METADATA")
			case strings.HasSuffix(entry.Name(), ".egg-info"):
				metaFile = filepath.Join(dir, entry.Name(), "PKG-INFO")
			default:
				continue
			}
			if requirements.CanonicalName(distInfoName(entry.Name())) != want {
				continue
			}
			f, err := os.Open(metaFile)
			if err != nil {
				continue
			}
			dist, err := parseMetadata(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			if requirements.CanonicalName(dist.Name) == want || dist.Name == "" {
				return dist, nil
			}
		}
	}
	return nil, nil
}

// distInfoName extracts the package name from "<name>-<version>.dist-info".
func distInfoName(dirName string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(dirName, ".dist-info"), ".egg-info")
	if i := strings.LastIndexByte(base, '-'); i >= 0 {
		return base[:i]
	}
	return base
}

// parseMetadata reads the RFC 822 style header block of a METADATA or
// PKG-INFO file. Only Name, Version and Requires-Dist are of interest.
func parseMetadata(r io.Reader) (*Distribution, error) {
	dist := &Distribution{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			// End of headers; the body is the package description.
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(key) {
		case "name":
			dist.Name = value
		case "version":
			dist.Version = value
		case "requires-dist":
			dist.Requires = append(dist.Requires, value)
		}
	}
	return dist, scanner.Err()
}
