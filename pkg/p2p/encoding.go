package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize bounds one frame's payload in both directions.
const MaxMessageSize = 8 * 1024 * 1024

// ErrMessageLength is returned for an empty or oversize frame payload.
var ErrMessageLength = errors.New("invalid message length")

type Decoder interface {
	Decode(io.Reader, *RPC) error
}

// FrameDecoder reads exactly one [type][length][payload] frame, never a byte
// more, so consecutive frames on the same stream stay aligned.
type FrameDecoder struct{}

func (d FrameDecoder) Decode(r io.Reader, rpc *RPC) error {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		return err
	}
	if header[0] != IncomingMessage {
		return fmt.Errorf("invalid message type: %d", header[0])
	}

	if _, err := io.ReadFull(r, header[1:]); err != nil {
		return fmt.Errorf("failed to read message length: %w", err)
	}
	length := binary.LittleEndian.Uint32(header[1:])

	// reject before allocating
	if length == 0 || length > MaxMessageSize {
		return fmt.Errorf("%w: %d (must be between 1 and %d bytes)", ErrMessageLength, length, MaxMessageSize)
	}

	rpc.Payload = make([]byte, int(length))
	if _, err := io.ReadFull(r, rpc.Payload); err != nil {
		return fmt.Errorf("failed to read message payload (%d bytes): %w", length, err)
	}
	return nil
}

// EncodeFrame wraps payload in a frame FrameDecoder understands. The frame
// goes out in a single Write so concurrent senders can't interleave.
func EncodeFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: %d (must be between 1 and %d bytes)", ErrMessageLength, len(payload), MaxMessageSize)
	}
	frame := make([]byte, 5+len(payload))
	frame[0] = IncomingMessage
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[5:], payload)

	n, err := w.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}
