package suiteql

import (
	"errors"
	"fmt"
)

// ErrorKind classifies remote query failures.
type ErrorKind string

const (
	// KindRateLimited signals the remote concurrency or request limit was hit.
	KindRateLimited ErrorKind = "rate_limited"
	// KindFeatureUnavailable signals a table or feature missing in the target
	// environment; callers treat it as a zero result.
	KindFeatureUnavailable ErrorKind = "feature_unavailable"
	// KindPermissionDenied signals the integration role lacks access.
	KindPermissionDenied ErrorKind = "permission_denied"
	// KindOther covers every remaining failure.
	KindOther ErrorKind = "other"
)

// Error is returned by executors for every remote failure.
type Error struct {
	Kind   ErrorKind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("suiteql: %s", e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the error kind; non-suiteql errors are KindOther.
func KindOf(err error) ErrorKind {
	var qerr *Error
	if errors.As(err, &qerr) && qerr != nil {
		return qerr.Kind
	}
	return KindOther
}

// IsRateLimited reports whether err carries KindRateLimited.
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == KindRateLimited
}

// IsFeatureUnavailable reports whether err carries KindFeatureUnavailable.
func IsFeatureUnavailable(err error) bool {
	return err != nil && KindOf(err) == KindFeatureUnavailable
}

// IsPermissionDenied reports whether err carries KindPermissionDenied.
func IsPermissionDenied(err error) bool {
	return err != nil && KindOf(err) == KindPermissionDenied
}
