package metadata

import (
	"github.com/pybuild/pybuild/pkg/requirements"
)

// Chain is the provenance of one unmet dependency: the missing specifier
// first, followed by the chain of requirements that pulled it in, up to the
// top-level specifier.
type Chain []string

// CheckDependencies verifies that every given specifier, and transitively
// every requirement the installed packages themselves declare, is installed
// at a satisfying version. It returns one Chain per unmet dependency; an
// empty result means the whole graph is satisfied.
//
// Specifiers whose environment marker is false for env are not candidates.
// A package name already present on the current chain is not descended into
// again, so cyclic metadata declarations terminate.
func CheckDependencies(paths []string, env requirements.Environment, specs []string) ([]Chain, error) {
	var unmet []Chain
	for _, spec := range specs {
		chains, err := checkDependency(paths, env, spec, nil, map[string]bool{})
		if err != nil {
			return nil, err
		}
		unmet = append(unmet, chains...)
	}
	return unmet, nil
}

func checkDependency(paths []string, env requirements.Environment, spec string, chain []string, ancestors map[string]bool) ([]Chain, error) {
	req, err := requirements.Parse(spec)
	if err != nil {
		return nil, err
	}

	if !req.Marker.Eval(env) {
		return nil, nil
	}

	name := requirements.CanonicalName(req.Name)
	if ancestors[name] {
		return nil, nil
	}

	dist, err := Lookup(paths, req.Name)
	if err != nil {
		return nil, err
	}
	if dist == nil || !req.SatisfiedBy(dist.Version) {
		return []Chain{append(Chain{spec}, chain...)}, nil
	}

	ancestors[name] = true
	defer delete(ancestors, name)

	// The package is present; its own declared requirements apply, with this
	// requirement's extras bound to the "extra" marker variable.
	childChain := append([]string{spec}, chain...)
	childEnv := env.WithExtras(req.Extras)

	var unmet []Chain
	for _, childSpec := range dist.Requires {
		chains, err := checkDependency(paths, childEnv, childSpec, childChain, ancestors)
		if err != nil {
			return nil, err
		}
		unmet = append(unmet, chains...)
	}
	return unmet, nil
}
