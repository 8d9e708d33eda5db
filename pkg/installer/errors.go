package installer

import (
	"fmt"
	"strings"
)

// Error reports a failed installer subprocess, carrying its captured output
// so non-verbose runs still surface diagnostics.
type Error struct {
	Installer string
	Output    []byte
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed to install build dependencies: %s", e.Installer, e.Err)
	if out := strings.TrimSpace(string(e.Output)); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}
