package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ankesh2004/segswap/internal/storage"
	"github.com/Ankesh2004/segswap/pkg/p2p"
)

const (
	DefaultSessionTimeout     = 30 * time.Second
	DefaultRetryBackoff       = 500 * time.Millisecond
	DefaultMaxConcurrentPeers = 8
)

type NodeOptions struct {
	ListenAddr string
	// AdvertiseAddr is what gets announced; defaults to the bound address.
	AdvertiseAddr string
	// Transport overrides the TCP transport built from ListenAddr.
	Transport p2p.Transport
	Storage   storage.Storage
	Resolver  Resolver
	Announcer Announcer
	Logger    *zap.Logger
	Stats     tally.Scope
	Clock     clock.Clock

	SessionTimeout time.Duration
	// Retries is how many extra attempts a session gets after a transport
	// failure. Protocol errors are never retried.
	Retries            int
	RetryBackoff       time.Duration
	Secure             bool
	MaxConcurrentPeers int
}

// Node is one participant: it serves its Storage to anyone who connects and
// downloads into the same Storage.
type Node struct {
	NodeOptions

	transport  p2p.Transport
	listener   *Listener
	downloader *Downloader
}

func NewNode(opts NodeOptions) *Node {
	if opts.Storage == nil {
		opts.Storage = storage.NewMemoryStorage(".", storage.DefaultSegmentSize)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Stats == nil {
		opts.Stats = tally.NoopScope
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.SessionTimeout == 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.MaxConcurrentPeers <= 0 {
		opts.MaxConcurrentPeers = DefaultMaxConcurrentPeers
	}

	n := &Node{
		NodeOptions: opts,
		listener:    NewListener(opts.Storage, opts.Logger, opts.Stats.SubScope("listener")),
		downloader:  NewDownloader(opts.Storage, opts.Logger, opts.Stats.SubScope("client")),
	}

	n.transport = opts.Transport
	if n.transport == nil {
		handshake := p2p.NOPHandshake
		if opts.Secure {
			handshake = p2p.SecureHandshake
		}
		n.transport = p2p.NewTCPTransport(p2p.TCPTransportOptions{
			ListenAddr: opts.ListenAddr,
			Handshake:  handshake,
			OnPeer:     n.onPeer,
			Logger:     opts.Logger,
		})
	}
	return n
}

func (n *Node) onPeer(peer p2p.Peer) {
	ch := NewChannel(peer, n.SessionTimeout)
	if err := n.listener.Serve(ch); err != nil {
		n.Logger.Warn("listener connection ended", zap.String("peer", ch.RemoteAddr()), zap.Error(err))
	}
}

// Addr is the address other nodes should dial.
func (n *Node) Addr() string {
	if n.AdvertiseAddr != "" {
		return n.AdvertiseAddr
	}
	return n.transport.Addr()
}

// Start begins serving in the background and announces every complete file.
func (n *Node) Start(ctx context.Context) error {
	if err := CheckSegmentSize(n.Storage.SegmentSize()); err != nil {
		return err
	}
	if err := n.transport.ListenAndAccept(); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.ListenAddr, err)
	}
	for _, name := range n.Storage.Files() {
		if n.Storage.IsComplete(name) {
			n.announce(ctx, name)
		}
	}
	return nil
}

func (n *Node) Stop() error {
	return n.transport.Close()
}

func (n *Node) announce(ctx context.Context, name string) {
	if n.Announcer == nil {
		return
	}
	if err := n.Announcer.Announce(ctx, name, n.Addr()); err != nil {
		n.Logger.Warn("announce failed", zap.String("file", name), zap.Error(err))
		return
	}
	n.Logger.Debug("announced", zap.String("file", name), zap.String("addr", n.Addr()))
}

// DownloadFrom runs one session against addr, retrying transport failures
// with a doubling backoff, and announces the file once it is complete.
func (n *Node) DownloadFrom(ctx context.Context, name, addr string) error {
	if err := n.downloadFrom(ctx, name, addr); err != nil {
		return err
	}
	n.announce(ctx, name)
	return nil
}

func (n *Node) downloadFrom(ctx context.Context, name, addr string) error {
	if err := CheckSegmentSize(n.Storage.SegmentSize()); err != nil {
		return err
	}
	backoff := n.RetryBackoff
	var err error
	for attempt := 0; attempt <= n.Retries; attempt++ {
		if attempt > 0 {
			n.Logger.Info("retrying session",
				zap.String("file", name), zap.String("peer", addr),
				zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			select {
			case <-n.Clock.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		err = n.session(ctx, name, addr)
		if err == nil || !isRetryable(err) || ctx.Err() != nil {
			return err
		}
		n.Stats.Counter("session_retries").Inc(1)
	}
	return err
}

func (n *Node) session(ctx context.Context, name, addr string) error {
	peer, err := n.transport.Dial(ctx, addr)
	if err != nil {
		return &TransportError{Op: "dial " + addr, Err: err}
	}
	ch := NewChannel(peer, n.SessionTimeout)
	defer ch.Close()
	return n.downloader.Run(ctx, ch, name)
}

// Download fetches name from every peer the Resolver knows, in parallel.
// It succeeds when the file is complete locally afterwards, even if some
// sessions failed.
func (n *Node) Download(ctx context.Context, name string) error {
	if n.Resolver == nil {
		return ErrNoPeers
	}
	peers, err := n.Resolver.Resolve(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to resolve peers for %s: %w", name, err)
	}

	self := n.Addr()
	var targets []string
	for _, p := range peers {
		if p != self {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return ErrNoPeers
	}
	n.Logger.Info("downloading", zap.String("file", name), zap.Strings("peers", targets))

	errs := make([]error, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.MaxConcurrentPeers)
	for i, addr := range targets {
		i, addr := i, addr
		g.Go(func() error {
			if err := n.downloadFrom(gctx, name, addr); err != nil {
				errs[i] = fmt.Errorf("%s: %w", addr, err)
			}
			// one peer failing must not cancel the others
			return nil
		})
	}
	g.Wait()

	if !n.Storage.IsComplete(name) {
		if err := errors.Join(errs...); err != nil {
			return err
		}
		return ErrIncomplete
	}

	// every session may have failed after the last segment landed
	if failed(errs) == len(errs) {
		data, err := n.Storage.Materialize(name)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(n.Storage.ResolvePath(name), data); err != nil {
			return err
		}
	}
	n.announce(ctx, name)
	return nil
}

func failed(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
