package p2p

import (
	"context"
	"net"
)

// Peer is one connection to a remote node.
type Peer interface {
	net.Conn
	Send([]byte) error
	// Outbound is true on the side that dialed.
	Outbound() bool
}

// Transport accepts inbound peers and dials outbound ones.
type Transport interface {
	Addr() string
	Dial(ctx context.Context, addr string) (Peer, error)
	ListenAndAccept() error
	Close() error
}
