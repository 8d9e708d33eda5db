package pyenv

import (
	"errors"
	"fmt"
	"strings"
)

// ErrActive is returned by Create on a provisioner instance that already
// owns an environment, or whose environment has been torn down. Concurrent
// builds must provision independent instances.
var ErrActive = errors.New("environment provisioner is not re-enterable; create a new instance")

// ProvisionError reports that no strategy produced a usable environment. The
// partially created environment root is always removed before this is
// returned.
type ProvisionError struct {
	Strategy Strategy
	Output   []byte
	Err      error
}

func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("failed to create isolated environment (%s): %s", e.Strategy, e.Err)
	if out := strings.TrimSpace(string(e.Output)); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

func (e *ProvisionError) Is(target error) bool {
	_, ok := target.(*ProvisionError)
	return ok
}
