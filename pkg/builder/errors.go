package builder

import (
	"strings"

	"github.com/pybuild/pybuild/pkg/metadata"
)

// UnmetDependenciesError carries the full structured set of unmet
// dependencies so a caller can act on it programmatically: install the
// missing packages, or re-run with isolation enabled.
type UnmetDependenciesError struct {
	Unmet []metadata.Chain
}

func (e *UnmetDependenciesError) Error() string {
	var b strings.Builder
	b.WriteString("missing build dependencies:")
	for _, chain := range e.Unmet {
		b.WriteString("\n\t" + chain[0])
		if len(chain) > 1 {
			b.WriteString("\n\t" + FormatChain(chain[1:]))
		}
	}
	return b.String()
}

func (e *UnmetDependenciesError) Is(target error) bool {
	_, ok := target.(*UnmetDependenciesError)
	return ok
}

// FormatChain renders a provenance chain as "a -> b -> c", markers stripped.
func FormatChain(chain []string) string {
	parts := make([]string, 0, len(chain))
	for _, spec := range chain {
		name, _, _ := strings.Cut(spec, ";")
		parts = append(parts, strings.TrimSpace(name))
	}
	return strings.Join(parts, " -> ")
}
