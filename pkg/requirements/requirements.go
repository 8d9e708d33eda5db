// Package requirements parses requirement specifiers: a package name plus
// optional extras, version constraints and an environment marker, e.g.
// "setuptools >= 40.8.0; python_version < '3.12'".
package requirements

import (
	"fmt"
	"os"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Requirement is one parsed specifier. The original specifier text is kept
// verbatim in Raw; dependency chains are reported in terms of Raw.
type Requirement struct {
	Raw         string
	Name        string
	Extras      []string
	Constraints []Constraint
	Marker      *Marker
	URL         string
}

// Constraint is a single version clause, e.g. {Op: ">=", Version: "40.8.0"}.
type Constraint struct {
	Op      string
	Version string
}

var constraintOps = []string{"===", "==", "!=", "~=", ">=", "<=", ">", "<"}

// Parse parses a requirement specifier. The grammar accepted is the subset
// needed to extract name, extras, version clauses and the marker; URL
// references ("name @ url") carry no version information and are recorded
// as-is.
func Parse(spec string) (*Requirement, error) {
	req := &Requirement{Raw: spec}

	body := spec
	if i := strings.IndexByte(body, ';'); i >= 0 {
		markerText := strings.TrimSpace(body[i+1:])
		body = body[:i]
		if markerText != "" {
			marker, err := ParseMarker(markerText)
			if err != nil {
				return nil, fmt.Errorf("requirement %q: %w", spec, err)
			}
			req.Marker = marker
		}
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("empty requirement specifier %q", spec)
	}

	i := 0
	for i < len(body) && isNameByte(body[i]) {
		i++
	}
	if i == 0 {
		return nil, fmt.Errorf("requirement %q does not start with a package name", spec)
	}
	req.Name = body[:i]
	rest := strings.TrimSpace(body[i:])

	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("requirement %q: unterminated extras", spec)
		}
		for _, extra := range strings.Split(rest[1:end], ",") {
			if extra = strings.TrimSpace(extra); extra != "" {
				req.Extras = append(req.Extras, extra)
			}
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	if strings.HasPrefix(rest, "@") {
		req.URL = strings.TrimSpace(rest[1:])
		return req, nil
	}

	rest = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")"))
	if rest == "" {
		return req, nil
	}

	for _, clause := range strings.Split(rest, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		op := ""
		for _, candidate := range constraintOps {
			if strings.HasPrefix(clause, candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			return nil, fmt.Errorf("requirement %q: invalid version clause %q", spec, clause)
		}
		ver := strings.TrimSpace(clause[len(op):])
		if ver == "" {
			return nil, fmt.Errorf("requirement %q: version clause %q has no version", spec, clause)
		}
		req.Constraints = append(req.Constraints, Constraint{Op: op, Version: ver})
	}

	return req, nil
}

func isNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' ||
		b == '.' || b == '-' || b == '_'
}

// CanonicalName normalizes a package name for comparison: lowercased, with
// runs of ".", "-" and "_" collapsed to a single "-".
func CanonicalName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	sep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' || c == '_' {
			sep = true
			continue
		}
		if sep {
			if b.Len() > 0 {
				b.WriteByte('-')
			}
			sep = false
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// SatisfiedBy reports whether an installed version satisfies every version
// clause of the requirement. Versions that cannot be parsed are treated as
// satisfying: the dependency check must not fail a package over exotic local
// version syntax it cannot compare.
func (r *Requirement) SatisfiedBy(installed string) bool {
	if len(r.Constraints) == 0 {
		return true
	}
	have, err := goversion.NewVersion(installed)
	if err != nil {
		return true
	}
	for _, c := range r.Constraints {
		if !c.satisfiedBy(have, installed) {
			return false
		}
	}
	return true
}

func (c Constraint) satisfiedBy(have *goversion.Version, raw string) bool {
	switch c.Op {
	case "===":
		return strings.TrimSpace(raw) == c.Version
	case "==":
		if strings.HasSuffix(c.Version, ".*") {
			return matchesPrefix(have, strings.TrimSuffix(c.Version, ".*"))
		}
	case "!=":
		if strings.HasSuffix(c.Version, ".*") {
			return !matchesPrefix(have, strings.TrimSuffix(c.Version, ".*"))
		}
	}

	op := c.Op
	switch op {
	case "==":
		op = "="
	case "~=":
		op = "~>"
	}
	constraint, err := goversion.NewConstraint(op + " " + c.Version)
	if err != nil {
		return true
	}
	return constraint.Check(have)
}

// matchesPrefix implements wildcard clauses: "== 1.2.*" accepts any 1.2.x.
func matchesPrefix(have *goversion.Version, prefix string) bool {
	want, err := goversion.NewVersion(prefix)
	if err != nil {
		return true
	}
	wantSegs := want.Segments()
	haveSegs := have.Segments()
	n := len(strings.Split(prefix, "."))
	if n > len(wantSegs) {
		n = len(wantSegs)
	}
	for i := 0; i < n; i++ {
		if i >= len(haveSegs) || haveSegs[i] != wantSegs[i] {
			return false
		}
	}
	return true
}

// WriteFile writes specifiers to a newline-delimited requirements file.
// Installers honor environment markers from a file but not reliably from
// command-line arguments, so installs always go through one of these.
func WriteFile(path string, reqs []string) error {
	return os.WriteFile(path, []byte(strings.Join(reqs, "\n")+"\n"), 0o644)
}
