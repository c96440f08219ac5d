package tracker

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/Ankesh2004/segswap/pkg/p2p"
)

type ServerOptions struct {
	ListenAddr string
	// PeerTTL drops announcements older than this from GET_PEERS replies.
	// Zero keeps them forever.
	PeerTTL time.Duration
	// RequestTimeout bounds a whole request/reply exchange.
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Stats          tally.Scope
	Clock          clock.Clock
}

// Server remembers which addresses announced which file names.
type Server struct {
	ServerOptions

	transport *p2p.TCPTransport

	mu    sync.RWMutex
	files map[string]map[string]time.Time // name -> addr -> last announced
}

func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Stats == nil {
		opts.Stats = tally.NoopScope
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		ServerOptions: opts,
		files:         make(map[string]map[string]time.Time),
	}
	s.transport = p2p.NewTCPTransport(p2p.TCPTransportOptions{
		ListenAddr: opts.ListenAddr,
		OnPeer:     s.handlePeer,
		Logger:     opts.Logger,
	})
	return s
}

func (s *Server) Start() error {
	return s.transport.ListenAndAccept()
}

func (s *Server) Addr() string {
	return s.transport.Addr()
}

func (s *Server) Stop() error {
	return s.transport.Close()
}

// SetFile records that addr serves name.
func (s *Server) SetFile(name, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers, ok := s.files[name]
	if !ok {
		peers = make(map[string]time.Time)
		s.files[name] = peers
	}
	peers[addr] = s.Clock.Now()
}

// Peers returns the live addresses for name, sorted.
func (s *Server) Peers(name string) []string {
	now := s.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for addr, seen := range s.files[name] {
		if s.PeerTTL > 0 && now.Sub(seen) > s.PeerTTL {
			delete(s.files[name], addr)
			continue
		}
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (s *Server) handlePeer(peer p2p.Peer) {
	logger := s.Logger.With(zap.String("peer", peer.RemoteAddr().String()))
	peer.SetDeadline(time.Now().Add(s.RequestTimeout))

	req, err := readRequest(bufio.NewReader(peer))
	if err != nil {
		logger.Warn("bad tracker request", zap.Error(err))
		s.Stats.Counter("bad_requests").Inc(1)
		peer.Send([]byte(replyError + "\n"))
		return
	}

	switch req.cmd {
	case cmdSetFile:
		s.SetFile(req.name, req.addr)
		s.Stats.Counter("announces").Inc(1)
		logger.Info("file announced", zap.String("file", req.name), zap.String("addr", req.addr))
		if err := peer.Send([]byte(replyOK + "\n")); err != nil {
			logger.Warn("failed to reply", zap.Error(err))
		}
	case cmdGetPeers:
		peers := s.Peers(req.name)
		s.Stats.Counter("lookups").Inc(1)
		logger.Debug("peers requested", zap.String("file", req.name), zap.Int("count", len(peers)))

		var b strings.Builder
		fmt.Fprintf(&b, "%s\n", replyPeers)
		for _, addr := range peers {
			fmt.Fprintf(&b, "%s\n", addr)
		}
		if err := peer.Send([]byte(b.String())); err != nil {
			logger.Warn("failed to reply", zap.Error(err))
		}
	}
}
