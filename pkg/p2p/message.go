package p2p

// IncomingMessage marks a length-prefixed frame on the wire:
// [0x1] [4-byte little-endian length] [payload]
const IncomingMessage = 0x1

// RPC is one decoded frame received from a peer.
type RPC struct {
	From    string // remote address of the peer that sent it
	Payload []byte
}
