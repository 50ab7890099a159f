package errors

import (
	"errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// As is the standard library's errors.As, re-exported so callers don't need
// both packages.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// ContextError wraps an error with a short description of the operation that
// failed. The description is prepended to the wrapped error's message so that
// the chain reads outermost-first.
type ContextError struct {
	Context string
	Err     error
}

func (err ContextError) Error() string {
	return fmt.Sprintf("%s: %s", err.Context, err.Err)
}

// Unwrap makes ContextError compatible with errors.Is and errors.As.
func (err ContextError) Unwrap() error {
	return err.Err
}

// WithContext annotates err with the operation that caused it.
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

// FriendlyError is an error that can be printed directly to the user without
// any further context. Errors that don't implement this interface are printed
// with their full chain.
type FriendlyError interface {
	FriendlyMessage() string
}

type friendlyError struct {
	message string
}

func (err friendlyError) Error() string {
	return err.message
}

func (err friendlyError) FriendlyMessage() string {
	return err.message
}

// NewFriendlyError creates an error meant to be shown to the user verbatim.
func NewFriendlyError(format string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(format, args...)}
}

// GetPrintableMessage returns the message that should be shown to the user
// for the given error.
func GetPrintableMessage(err error) string {
	var friendly FriendlyError
	if errors.As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}
