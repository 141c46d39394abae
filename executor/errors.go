package executor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidMaxConnections is returned for a non-positive connection budget.
	ErrInvalidMaxConnections = errors.New("max connections size per query must be positive")

	// ErrSessionClosed is returned when execution starts on a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrEngineClosed is returned when groups are submitted to a released engine.
	ErrEngineClosed = errors.New("execution engine is closed")
)

// ExecutionError aggregates every unit failure of one Execute call, in
// submission order. The first failure is the head of the chain.
type ExecutionError struct {
	errs []error
}

func newExecutionError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ExecutionError{errs: errs}
}

func (e *ExecutionError) Error() string {
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	msgs := make([]string, 0, len(e.errs)-1)
	for _, err := range e.errs[1:] {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%v (caused also: %s)", e.errs[0], strings.Join(msgs, "; "))
}

// Cause returns the first failure.
func (e *ExecutionError) Cause() error { return e.errs[0] }

// Unwrap exposes all failures to errors.Is and errors.As.
func (e *ExecutionError) Unwrap() []error { return e.errs }

// Errors returns a copy of the failures.
func (e *ExecutionError) Errors() []error {
	return append([]error(nil), e.errs...)
}
