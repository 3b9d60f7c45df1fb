package consol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("consol: invalid request")
	// ErrMalformedAggregate marks a required aggregate whose result shape was
	// not a single numeric row.
	ErrMalformedAggregate = errors.New("consol: malformed aggregate result")
	// ErrAccountNotFound is returned by account lookups.
	ErrAccountNotFound = errors.New("consol: account not found")
)

// ComponentError names the computation that could not be completed. Its
// value must be reported as absent, never as zero.
type ComponentError struct {
	Component string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("consol: %s: %v", e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

// ComponentOf returns the failing component name, or "" when err is not a
// ComponentError.
func ComponentOf(err error) string {
	var cerr *ComponentError
	if errors.As(err, &cerr) {
		return cerr.Component
	}
	return ""
}

func componentErr(component string, err error) error {
	if err == nil {
		return nil
	}
	var cerr *ComponentError
	if errors.As(err, &cerr) {
		return err
	}
	return &ComponentError{Component: component, Err: err}
}
