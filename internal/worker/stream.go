package worker

import (
	"fmt"
	"io"
	"sync"

	"chatd/internal/wire"
)

// Stream is an in-flight streaming generation. It owns the client's wire
// channel until Close. Recv returns one fragment at a time and io.EOF once
// the worker sends its terminal done reply; any other error means the stream
// ended on an inference error, a crash, or a protocol violation.
type Stream struct {
	c *Client
	p *proc

	closeOnce sync.Once
	finished  bool
	finish    string
	err       error
}

// Recv blocks for the next fragment.
func (s *Stream) Recv() (string, error) {
	if s.finished {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	resp, err := s.c.readLocked(s.p)
	if err != nil {
		s.finished = true
		s.err = err
		return "", err
	}
	switch resp.Type {
	case wire.TypeDelta:
		return resp.Content, nil
	case wire.TypeDone:
		s.finished = true
		s.finish = resp.FinishReason
		return "", io.EOF
	case wire.TypeError:
		s.finished = true
		s.err = resp.Err()
		return "", s.err
	default:
		s.c.setDesynced()
		s.finished = true
		s.err = wire.ErrProtocol("", fmt.Errorf("unexpected reply %q mid-stream", resp.Type))
		return "", s.err
	}
}

// FinishReason reports why generation stopped ("stop", "length", ...). Valid
// after Recv has returned io.EOF.
func (s *Stream) FinishReason() string { return s.finish }

// Err returns the terminal error, or nil after a clean done.
func (s *Stream) Err() error { return s.err }

// Close releases the wire channel. If the stream was abandoned before its
// terminal reply, Close first drains the remaining fragments so the next
// request starts on an aligned channel. Close is idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		for !s.finished {
			if _, err := s.Recv(); err != nil {
				break
			}
		}
		s.c.streamBusy.Store(false)
		s.c.mu.Unlock()
	})
	return s.err
}
