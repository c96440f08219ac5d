package server

import (
	"bufio"
	"fmt"
	"sync"
	"time"

	"github.com/Ankesh2004/segswap/pkg/p2p"
)

// Channel moves whole Messages over one peer connection: gob inside a
// length-prefixed frame. Every Recv and Send is bounded by timeout when it
// is positive.
type Channel struct {
	peer    p2p.Peer
	reader  *bufio.Reader
	decoder p2p.Decoder
	timeout time.Duration

	writeMu sync.Mutex
}

func NewChannel(peer p2p.Peer, timeout time.Duration) *Channel {
	return &Channel{
		peer:    peer,
		reader:  bufio.NewReader(peer),
		decoder: p2p.FrameDecoder{},
		timeout: timeout,
	}
}

func (c *Channel) RemoteAddr() string {
	return c.peer.RemoteAddr().String()
}

// Send is safe for concurrent use.
func (c *Channel) Send(msg Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	// a message that can never fit is our bug, not the connection's
	if len(payload) > p2p.MaxMessageSize {
		return fmt.Errorf("%s of %d bytes: %w", msg.Kind, len(payload), p2p.ErrMessageLength)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		c.peer.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if err := p2p.EncodeFrame(c.peer, payload); err != nil {
		return &TransportError{Op: "send " + msg.Kind.String(), Err: err}
	}
	return nil
}

// Recv blocks for the next message. It is not safe for concurrent use.
func (c *Channel) Recv() (Message, error) {
	if c.timeout > 0 {
		c.peer.SetReadDeadline(time.Now().Add(c.timeout))
	}
	rpc := p2p.RPC{From: c.RemoteAddr()}
	if err := c.decoder.Decode(c.reader, &rpc); err != nil {
		return Message{}, &TransportError{Op: "recv", Err: err}
	}
	return decodeMessage(rpc.Payload)
}

func (c *Channel) Close() error {
	return c.peer.Close()
}
