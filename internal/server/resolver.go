package server

import "context"

// Resolver returns the addresses of peers believed to hold name.
type Resolver interface {
	Resolve(ctx context.Context, name string) ([]string, error)
}

// Announcer tells the rest of the network that addr can serve name.
type Announcer interface {
	Announce(ctx context.Context, name, addr string) error
}

// StaticResolver answers every lookup with the same peer list.
type StaticResolver []string

func (r StaticResolver) Resolve(context.Context, string) ([]string, error) {
	if len(r) == 0 {
		return nil, ErrNoPeers
	}
	out := make([]string, len(r))
	copy(out, r)
	return out, nil
}
