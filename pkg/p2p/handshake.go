package p2p

// HandshakeFunc runs right after a connection is established, before any
// message is exchanged. It may replace the peer's underlying connection.
type HandshakeFunc func(peer Peer) error

// NOPHandshake accepts every peer as-is.
func NOPHandshake(Peer) error {
	return nil
}
