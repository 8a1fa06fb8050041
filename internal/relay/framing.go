package relay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxIncoming bounds messages from the browser. Chrome allows up to
	// 64 MiB in this direction.
	MaxIncoming = 64 << 20
	// MaxOutgoing is Chrome's limit for messages sent by a native host.
	MaxOutgoing = 1 << 20
)

// ErrMessageTooLarge is returned when a frame exceeds its direction's cap.
var ErrMessageTooLarge = errors.New("native message too large")

// ReadMessage reads one native messaging frame: a little-endian uint32
// length followed by that many bytes of JSON. It returns io.EOF when the
// browser closes the port between frames.
func ReadMessage(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame header: %w", err)
		}
		return nil, err
	}
	if n > MaxIncoming {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("truncated frame body: %w", err)
	}
	return buf, nil
}

// WriteMessage marshals v and writes it as one frame.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(payload) > MaxOutgoing {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	_, err = w.Write(frame)
	return err
}
