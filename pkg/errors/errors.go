// Package errors augments the standard errors
// with sentinel errors that may wrap a cause without being mutated,
// and with contextual annotations (https://github.com/pkg/errors).
package errors

import (
	stderr "errors"

	pkgerrors "github.com/pkg/errors"
)

var _ error = New("")

// New sentinel Error
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error is a sentinel error that may carry a nested cause.
//
// Wrap returns a new error: the sentinel is left untouched and remains
// the match target for Is.
type Error struct {
	msg    string
	err    error
	parent *Error
}

// Error message, followed by the message of the nested cause, if any
func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap a nested error into a copy of this sentinel
func (e *Error) Wrap(err error) *Error {
	root := e
	if e.parent != nil {
		root = e.parent
	}
	return &Error{msg: e.msg, err: err, parent: root}
}

// Is of some error type?
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.parent != nil && e.parent == t)
}

// Wrapf annotates err with a formatted message. It returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// Errorf formats an error message with a stack trace
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error value and returns true.
// (a shortcut to standard lib errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.Is)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
