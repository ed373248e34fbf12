package session

import "errors"

// busyError signals that another generation, load, or cleanup is in flight.
// Mapped to 429 by the HTTP layer; the operation was a no-op and is safe to
// retry.
type busyError struct{ reason string }

func (e busyError) Error() string { return "busy: " + e.reason }

// ErrBusy constructs a busyError.
func ErrBusy(reason string) error { return busyError{reason: reason} }

// IsBusy reports whether err indicates the session rejected the operation
// because it is occupied.
func IsBusy(err error) bool {
	var be busyError
	return errors.As(err, &be)
}

// notLoadedError signals that no chat model is loaded yet.
type notLoadedError struct{}

func (notLoadedError) Error() string { return "no model loaded" }

// ErrNotLoaded constructs a notLoadedError.
func ErrNotLoaded() error { return notLoadedError{} }

// IsNotLoaded reports whether err indicates a missing loaded model (503).
func IsNotLoaded(err error) bool {
	var ne notLoadedError
	return errors.As(err, &ne)
}
