package requirements

import (
	"fmt"
	"runtime"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Environment holds the marker variables a requirement's environment marker
// is evaluated against. Empty fields are treated as unknown, and comparisons
// on unknown variables evaluate true: a requirement is only skipped when it
// is provably inapplicable to the platform.
type Environment struct {
	OSName          string // os_name: "posix" or "nt"
	SysPlatform     string // sys_platform: "linux", "darwin", "win32"
	PlatformSystem  string // platform_system: "Linux", "Darwin", "Windows"
	PlatformMachine string // platform_machine: "x86_64", "aarch64", ...
	PythonVersion   string // python_version: "3.12"
	Extras          []string
}

// HostEnvironment derives marker variables from the platform the frontend
// itself runs on. The interpreter's python_version is filled in separately by
// whoever probed the interpreter.
func HostEnvironment() Environment {
	env := Environment{
		OSName:          "posix",
		SysPlatform:     runtime.GOOS,
		PlatformMachine: runtime.GOARCH,
	}
	switch runtime.GOOS {
	case "windows":
		env.OSName = "nt"
		env.SysPlatform = "win32"
		env.PlatformSystem = "Windows"
	case "darwin":
		env.PlatformSystem = "Darwin"
	case "linux":
		env.PlatformSystem = "Linux"
	}
	switch runtime.GOARCH {
	case "amd64":
		env.PlatformMachine = "x86_64"
	case "arm64":
		if runtime.GOOS == "darwin" {
			env.PlatformMachine = "arm64"
		} else {
			env.PlatformMachine = "aarch64"
		}
	case "386":
		env.PlatformMachine = "i686"
	}
	return env
}

func (e Environment) lookup(name string) (value string, known bool) {
	switch name {
	case "os_name":
		return e.OSName, e.OSName != ""
	case "sys_platform":
		return e.SysPlatform, e.SysPlatform != ""
	case "platform_system":
		return e.PlatformSystem, e.PlatformSystem != ""
	case "platform_machine":
		return e.PlatformMachine, e.PlatformMachine != ""
	case "python_version", "python_full_version":
		return e.PythonVersion, e.PythonVersion != ""
	default:
		return "", false
	}
}

// WithExtras returns a copy of the environment with the given extras active,
// used when descending into an extra-gated dependency.
func (e Environment) WithExtras(extras []string) Environment {
	e.Extras = extras
	return e
}

// Marker is a parsed environment marker expression.
type Marker struct {
	Raw  string
	expr markerNode
}

// Eval reports whether the marker holds in the given environment.
func (m *Marker) Eval(env Environment) bool {
	if m == nil {
		return true
	}
	return m.expr.eval(env)
}

type markerNode interface {
	eval(Environment) bool
}

type orNode struct{ left, right markerNode }
type andNode struct{ left, right markerNode }

func (n orNode) eval(env Environment) bool  { return n.left.eval(env) || n.right.eval(env) }
func (n andNode) eval(env Environment) bool { return n.left.eval(env) && n.right.eval(env) }

type cmpNode struct {
	lhs, rhs markerValue
	op       string
}

type markerValue struct {
	text     string
	variable bool
}

func (n cmpNode) eval(env Environment) bool {
	// "extra" compares against the set of active extras rather than a scalar.
	if n.lhs.variable && n.lhs.text == "extra" {
		return evalExtra(n.op, n.rhs.text, env.Extras)
	}
	if n.rhs.variable && n.rhs.text == "extra" {
		return evalExtra(n.op, n.lhs.text, env.Extras)
	}

	lhs, known := resolveValue(n.lhs, env)
	if !known {
		return true
	}
	rhs, known := resolveValue(n.rhs, env)
	if !known {
		return true
	}

	switch n.op {
	case "in":
		return strings.Contains(rhs, lhs)
	case "not in":
		return !strings.Contains(rhs, lhs)
	}

	// Version comparison when both sides parse as versions; string otherwise.
	if lv, err := goversion.NewVersion(lhs); err == nil {
		if rv, err := goversion.NewVersion(rhs); err == nil {
			return compareOrdered(lv.Compare(rv), n.op)
		}
	}
	return compareOrdered(strings.Compare(lhs, rhs), n.op)
}

func resolveValue(v markerValue, env Environment) (string, bool) {
	if !v.variable {
		return v.text, true
	}
	return env.lookup(v.text)
}

func evalExtra(op, want string, extras []string) bool {
	have := false
	for _, extra := range extras {
		if CanonicalName(extra) == CanonicalName(want) {
			have = true
			break
		}
	}
	switch op {
	case "==":
		return have
	case "!=":
		return !have
	default:
		return true
	}
}

func compareOrdered(cmp int, op string) bool {
	switch op {
	case "==", "===":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case "~=":
		// Close enough for a marker: compatible release pins the same major.
		return cmp >= 0
	default:
		return true
	}
}

// ParseMarker parses an environment marker expression.
func ParseMarker(text string) (*Marker, error) {
	p := &markerParser{tokens: tokenizeMarker(text)}
	expr, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("invalid marker %q: %w", text, err)
	}
	if p.peek() != "" {
		return nil, fmt.Errorf("invalid marker %q: unexpected %q", text, p.peek())
	}
	return &Marker{Raw: text, expr: expr}, nil
}

type markerParser struct {
	tokens []string
	pos    int
}

func (p *markerParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *markerParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *markerParser) parseOr() (markerNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *markerParser) parseAnd() (markerNode, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.peek() == "and" {
		p.next()
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *markerParser) parseAtom() (markerNode, error) {
	if p.peek() == "(" {
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return expr, nil
	}

	lhs, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	op := p.next()
	if op == "not" {
		if p.next() != "in" {
			return nil, fmt.Errorf("expected 'in' after 'not'")
		}
		op = "not in"
	}
	switch op {
	case "==", "===", "!=", ">=", "<=", ">", "<", "~=", "in", "not in":
	default:
		return nil, fmt.Errorf("invalid comparison operator %q", op)
	}
	rhs, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return cmpNode{lhs: lhs, rhs: rhs, op: op}, nil
}

func (p *markerParser) parseValue() (markerValue, error) {
	tok := p.next()
	if tok == "" {
		return markerValue{}, fmt.Errorf("unexpected end of marker")
	}
	if strings.HasPrefix(tok, "'") || strings.HasPrefix(tok, "\"") {
		return markerValue{text: tok[1 : len(tok)-1]}, nil
	}
	if !isIdentifier(tok) {
		return markerValue{}, fmt.Errorf("invalid marker value %q", tok)
	}
	return markerValue{text: tok, variable: true}, nil
}

func isIdentifier(tok string) bool {
	for i := 0; i < len(tok); i++ {
		if !isNameByte(tok[i]) {
			return false
		}
	}
	return len(tok) > 0
}

func tokenizeMarker(text string) []string {
	var tokens []string
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(' || c == ')':
			tokens = append(tokens, string(c))
			i++
		case c == '\'' || c == '"':
			end := i + 1
			for end < len(text) && text[end] != c {
				end++
			}
			if end < len(text) {
				end++
			}
			tokens = append(tokens, text[i:end])
			i = end
		case strings.ContainsRune("=!<>~", rune(c)):
			end := i
			for end < len(text) && strings.ContainsRune("=!<>~", rune(text[end])) {
				end++
			}
			tokens = append(tokens, text[i:end])
			i = end
		default:
			end := i
			for end < len(text) && isNameByte(text[end]) {
				end++
			}
			if end == i {
				// Skip a byte we cannot tokenize; the parser rejects it.
				end++
			}
			tokens = append(tokens, text[i:end])
			i = end
		}
	}
	return tokens
}
