// Package nativemsg implements the browser native messaging host: a
// length-prefixed JSON codec on stdin/stdout and the action dispatcher
// behind it. The host must never crash on bad input; every failure is
// reported inside the response envelope.
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single frame. The browser enforces its own
// limit on messages to the extension; this guards the host's side.
const MaxMessageSize = 64 << 20

// ReadFrame reads one length-prefixed message. The 4-byte length prefix
// uses the platform's native byte order, per the native messaging
// protocol. Returns io.EOF when the browser closed the pipe cleanly.
func ReadFrame(r io.Reader) ([]byte, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("nativemsg: read header: %w", err)
	}
	n := binary.NativeEndian.Uint32(head[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("nativemsg: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("nativemsg: read body: %w", err)
	}
	return buf, nil
}

// WriteFrame marshals v and writes it as one length-prefixed message.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nativemsg: marshal: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("nativemsg: frame of %d bytes exceeds limit", len(data))
	}
	var head [4]byte
	binary.NativeEndian.PutUint32(head[:], uint32(len(data)))
	if _, err := w.Write(head[:]); err != nil {
		return fmt.Errorf("nativemsg: write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("nativemsg: write body: %w", err)
	}
	return nil
}
