package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// CompileError aborts compilation of one unit. It never describes a
// language-level exception.
type CompileError struct {
	Unit    string
	Index   int
	Message string
	Cause   error
}

func (e *CompileError) Error() string {
	where := e.Unit
	if e.Index >= 0 {
		where = fmt.Sprintf("%s@%d", e.Unit, e.Index)
	}
	if e.Cause != nil {
		return fmt.Sprintf("compile %s: %s: %v", where, e.Message, e.Cause)
	}
	return fmt.Sprintf("compile %s: %s", where, e.Message)
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}

// IsCompileError checks if an error is, or wraps, a compile error
func IsCompileError(err error) bool {
	var ce *CompileError
	return crdb.As(err, &ce)
}

// WrapCompileError wraps an existing error as a compile error
func WrapCompileError(err error, unit string, index int, message string) *CompileError {
	return &CompileError{
		Unit:    unit,
		Index:   index,
		Message: message,
		Cause:   err,
	}
}

// CompileErrorf creates a new compile error with formatted message
func CompileErrorf(unit string, index int, format string, args ...interface{}) *CompileError {
	return &CompileError{
		Unit:    unit,
		Index:   index,
		Message: fmt.Sprintf(format, args...),
	}
}

// Assertf reports a broken internal invariant. The returned error carries a
// stack trace and is recognised by IsAssertion.
func Assertf(format string, args ...interface{}) error {
	return crdb.AssertionFailedf(format, args...)
}

// IsAssertion reports whether err stems from Assertf.
func IsAssertion(err error) bool {
	return crdb.HasAssertionFailure(err)
}
