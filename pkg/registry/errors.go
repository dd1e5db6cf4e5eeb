package registry

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when an agent or skill is absent from the registry.
var ErrNotFound = errors.New("not found")

// RegistryError reports every problem found while loading a registry.
// It is fatal: a registry with problems is never installed.
type RegistryError struct {
	problems *multierror.Error
}

func newRegistryError(problems *multierror.Error) *RegistryError {
	problems.ErrorFormat = func(errs []error) string {
		lines := make([]string, 0, len(errs))
		for _, err := range errs {
			lines = append(lines, "  * "+err.Error())
		}
		return strings.Join(lines, "\n")
	}
	return &RegistryError{problems: problems}
}

func (e *RegistryError) Error() string {
	return "invalid registry:\n" + e.problems.Error()
}

// Unwrap exposes the individual problems to errors.Is / errors.As.
func (e *RegistryError) Unwrap() []error {
	return e.problems.WrappedErrors()
}

// Problems returns the individual validation problems.
func (e *RegistryError) Problems() []error {
	return e.problems.WrappedErrors()
}

// IsRegistryError reports whether err is (or wraps) a RegistryError.
func IsRegistryError(err error) bool {
	var re *RegistryError
	return errors.As(err, &re)
}
