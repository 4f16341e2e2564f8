package backend

import (
	"errors"
	"fmt"
)

// Error is a failure reported by a provider. Code is the provider's numeric
// status and becomes the process exit code when it fits in one.
type Error struct {
	Op   string
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: backend error %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: backend error %d: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WithOp returns err annotated with the call site. Backend errors keep
// their code; anything else is wrapped with code 0.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return &Error{Op: op, Code: be.Code, Err: be.Err}
	}
	return &Error{Op: op, Err: err}
}

// ExitCode maps err to a process exit status: the backend code when one is
// present and in 1..255, otherwise 1. A nil error maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var be *Error
	if errors.As(err, &be) && be.Code > 0 && be.Code < 256 {
		return be.Code
	}
	return 1
}
