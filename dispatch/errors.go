package dispatch

import (
	"errors"
	"fmt"

	"github.com/mesmerverse/rats-tls/backend"
)

var (
	// ErrUnknownName is returned for a name that matches no built-in module
	// and, in host mode, for which no shared object exists
	ErrUnknownName = errors.New("no such module name")

	ErrDlopen       = errors.New("failed to load module")
	ErrRegistration = errors.New("module registration failed")
)

// DlopenError reports a shared object that could not be loaded or whose
// entry symbol could not be resolved
type DlopenError struct {
	Path string
	Diag string
}

func (e *DlopenError) Error() string {
	return fmt.Sprintf("failed on dlopen(%s): %s", e.Path, e.Diag)
}

func (e *DlopenError) Is(target error) bool {
	return target == ErrDlopen
}

// RegistrationError reports the post-init hook that rejected a module. Kinds
// registered before Kind stay registered.
type RegistrationError struct {
	Name string
	Kind backend.Kind
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register %s as %s: %v", e.Name, e.Kind, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

func (e *RegistrationError) Is(target error) bool {
	return target == ErrRegistration
}
