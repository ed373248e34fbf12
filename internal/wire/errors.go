package wire

import (
	"errors"
	"fmt"
)

// protocolError flags a malformed or unexpected record. It is fatal to the
// current exchange only; the caller decides whether the channel can be
// trusted afterwards (this host restarts the worker).
type protocolError struct {
	line string
	err  error
}

func (e protocolError) Error() string {
	if e.line == "" {
		return fmt.Sprintf("protocol: %v", e.err)
	}
	return fmt.Sprintf("protocol: %v (line %q)", e.err, e.line)
}

func (e protocolError) Unwrap() error { return e.err }

// ErrProtocol wraps err as a protocol error, keeping a truncated copy of the
// offending line for diagnostics.
func ErrProtocol(line string, err error) error {
	const keep = 120
	if len(line) > keep {
		line = line[:keep] + "..."
	}
	return protocolError{line: line, err: err}
}

// IsProtocol reports whether err is a protocol error.
func IsProtocol(err error) bool {
	var pe protocolError
	return errors.As(err, &pe)
}
