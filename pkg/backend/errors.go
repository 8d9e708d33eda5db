package backend

import (
	"errors"
	"fmt"
	"strings"
)

// ErrHookUnsupported is returned when the backend does not implement the
// requested hook. For optional hooks this is an expected outcome, not an
// error to surface.
var ErrHookUnsupported = errors.New("build backend does not implement this hook")

// HookError reports a hook that the backend implemented but which raised.
// Traceback carries the remote exception text.
type HookError struct {
	Hook      Hook
	Traceback string
}

func (e *HookError) Error() string {
	msg := fmt.Sprintf("build backend raised an exception in %s", e.Hook)
	if lines := strings.Split(strings.TrimSpace(e.Traceback), "\n"); len(lines) > 0 {
		msg += ": " + lines[len(lines)-1]
	}
	return msg
}

func (e *HookError) Is(target error) bool {
	_, ok := target.(*HookError)
	return ok
}

// ProcessError reports a backend subprocess that crashed or produced no
// readable result, carrying its captured output.
type ProcessError struct {
	Hook   Hook
	Output []byte
	Err    error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("build backend process failed while running %s: %s", e.Hook, e.Err)
	if out := strings.TrimSpace(string(e.Output)); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

func (e *ProcessError) Is(target error) bool {
	_, ok := target.(*ProcessError)
	return ok
}
