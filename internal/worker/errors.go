package worker

import (
	"errors"
	"fmt"
	"time"
)

// timeoutError signals a bounded wait (load, embed) that expired. The wire
// channel may still carry the late reply, so the caller must restart the
// worker before reusing it.
type timeoutError struct {
	op string
	d  time.Duration
}

func (e timeoutError) Error() string { return fmt.Sprintf("%s timed out after %s", e.op, e.d) }

// ErrTimeout constructs a timeout error for the given operation.
func ErrTimeout(op string, d time.Duration) error { return timeoutError{op: op, d: d} }

// IsTimeout reports whether err indicates an expired load/embed bound.
func IsTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te)
}

// crashError signals that the worker process exited while a call was in
// flight. It carries a bounded stderr tail for diagnostics.
type crashError struct {
	role string
	err  error
	tail string
}

func (e crashError) Error() string {
	msg := fmt.Sprintf("%s worker crashed: %v", e.role, e.err)
	if e.tail != "" {
		msg += "; stderr tail: " + e.tail
	}
	return msg
}

func (e crashError) Unwrap() error { return e.err }

// ErrCrash constructs a crash error.
func ErrCrash(role string, err error, tail string) error {
	return crashError{role: role, err: err, tail: tail}
}

// IsCrash reports whether err indicates an unexpected worker exit.
func IsCrash(err error) bool {
	var ce crashError
	return errors.As(err, &ce)
}

// capacityError signals that every offload candidate failed; the model stays
// unloaded.
type capacityError struct {
	model    string
	attempts int
	last     error
}

func (e capacityError) Error() string {
	msg := fmt.Sprintf("no working GPU offload level for %s (%d candidates tried)", e.model, e.attempts)
	if e.last != nil {
		msg += ": last error: " + e.last.Error()
	}
	return msg
}

func (e capacityError) Unwrap() error { return e.last }

// ErrCapacity constructs a capacity error.
func ErrCapacity(model string, attempts int, last error) error {
	return capacityError{model: model, attempts: attempts, last: last}
}

// IsCapacity reports whether err indicates offload-capacity exhaustion.
func IsCapacity(err error) bool {
	var ce capacityError
	return errors.As(err, &ce)
}
