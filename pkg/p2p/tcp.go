package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// ================== TCP Peer ==========================

type TCPPeer struct {
	net.Conn
	// isOutbound is true when we dialed, false when we accepted
	isOutbound bool
}

func NewTCPPeer(isOutbound bool, conn net.Conn) *TCPPeer {
	return &TCPPeer{
		Conn:       conn,
		isOutbound: isOutbound,
	}
}

func (p *TCPPeer) Outbound() bool {
	return p.isOutbound
}

func (p *TCPPeer) Send(data []byte) error {
	n, err := p.Conn.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return io.ErrShortWrite
	}
	return nil
}

// ============ TCP Transport options ============

type TCPTransportOptions struct {
	ListenAddr string
	Handshake  HandshakeFunc
	// OnPeer is called on its own goroutine for every accepted peer that passed
	// the handshake. The connection is closed when it returns.
	OnPeer func(Peer)
	Logger *zap.Logger
}

// ============= TCP Transport =================

type TCPTransport struct {
	TCPTransportOptions
	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewTCPTransport(opts TCPTransportOptions) *TCPTransport {
	if opts.Handshake == nil {
		opts.Handshake = NOPHandshake
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &TCPTransport{
		TCPTransportOptions: opts,
		conns:               make(map[net.Conn]struct{}),
	}
}

// Addr is the bound listen address once listening, the configured one before.
func (t *TCPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.ListenAddr
}

func (t *TCPTransport) ListenAndAccept() error {
	lc := net.ListenConfig{Control: setSocketReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", t.ListenAddr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(ln)
	t.Logger.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Dial connects to addr and runs the handshake. The caller owns the peer.
func (t *TCPTransport) Dial(ctx context.Context, addr string) (Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	peer := NewTCPPeer(true, conn)
	if err := t.Handshake(peer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s failed: %w", addr, err)
	}
	return peer, nil
}

func (t *TCPTransport) acceptLoop(ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.Logger.Warn("accept error", zap.Error(err))
			continue
		}
		if !t.track(conn) {
			conn.Close()
			return
		}
		// one goroutine per peer
		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *TCPTransport) handleConnection(conn net.Conn) {
	defer func() {
		t.untrack(conn)
		conn.Close()
		t.wg.Done()
	}()

	peer := NewTCPPeer(false, conn)
	if err := t.Handshake(peer); err != nil {
		t.Logger.Warn("handshake failed",
			zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	if t.OnPeer != nil {
		t.OnPeer(peer)
	}
}

func (t *TCPTransport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

func (t *TCPTransport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// Close stops accepting, closes every inbound connection and waits for
// their handlers to return.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ln := t.listener
	for conn := range t.conns {
		conn.Close()
	}
	t.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	t.wg.Wait()
	return err
}
