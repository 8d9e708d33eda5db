package config

import "fmt"

// Error indicates a malformed or inconsistent project configuration. It is
// fatal: the caller should not retry.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid build configuration %s: %s", e.Path, e.Reason)
}

func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}
