package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"
)

// maxLine caps one framed record. Embedding vectors for large models are the
// longest records in practice; 8 MiB leaves generous headroom.
const maxLine = 8 * 1024 * 1024

// Encoder writes one JSON object per line and flushes after every record so
// the peer never stalls on a buffered half-write.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

func (e *Encoder) Encode(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads line-framed JSON records. Whitespace-only lines are skipped.
// A non-JSON line yields a protocol error; because framing is line-based the
// decoder stays usable for the records that follow.
type Decoder struct {
	sc *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Decoder{sc: sc}
}

// Decode reads the next record into v. Returns io.EOF once the stream ends.
func (d *Decoder) Decode(v any) error {
	for {
		if !d.sc.Scan() {
			if err := d.sc.Err(); err != nil {
				if err == bufio.ErrTooLong {
					return ErrProtocol("", err)
				}
				return err
			}
			return io.EOF
		}
		line := strings.TrimSpace(d.sc.Text())
		if line == "" {
			continue
		}
		if err := json.Unmarshal([]byte(line), v); err != nil {
			return ErrProtocol(line, err)
		}
		return nil
	}
}

// DecodeResponse is Decode specialized for worker responses.
func (d *Decoder) DecodeResponse() (Response, error) {
	var resp Response
	err := d.Decode(&resp)
	return resp, err
}
