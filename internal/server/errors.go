package server

import (
	"errors"
	"fmt"

	"github.com/Ankesh2004/segswap/pkg/p2p"
)

var (
	ErrFileNotFound      = errors.New("remote peer does not have the file")
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrIncomplete        = errors.New("session ended before the file was complete")
	ErrNoPeers           = errors.New("no peers to download from")
	ErrSegmentTooLarge   = errors.New("segment size does not fit in one message")
)

// MaxSegmentSize keeps a Segment message, envelope and file name included,
// inside p2p.MaxMessageSize.
const MaxSegmentSize = p2p.MaxMessageSize - 64*1024

// CheckSegmentSize rejects segment sizes the wire format cannot carry.
func CheckSegmentSize(size int) error {
	if size <= 0 || size > MaxSegmentSize {
		return fmt.Errorf("%w: %d (must be between 1 and %d bytes)", ErrSegmentTooLarge, size, MaxSegmentSize)
	}
	return nil
}

// TransportError marks a failure of the connection itself (dial, reset,
// timeout) as opposed to a protocol violation. Only these are retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func isRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
