package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/Ankesh2004/segswap/internal/storage"
)

type sessionState int

const (
	stateStart sessionState = iota
	stateAwaitInfo
	stateAwaitNumbers
	stateFetching
	stateAwaitFinishedEcho
	stateDone
)

func (s sessionState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateAwaitInfo:
		return "await-info"
	case stateAwaitNumbers:
		return "await-numbers"
	case stateFetching:
		return "fetching"
	case stateAwaitFinishedEcho:
		return "await-finished-echo"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Downloader drives the client side of a transfer. Any number of sessions
// may run at once against the same Storage, one per (peer, file).
type Downloader struct {
	Storage storage.Storage
	Logger  *zap.Logger
	Stats   tally.Scope
}

func NewDownloader(st storage.Storage, logger *zap.Logger, stats tally.Scope) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = tally.NoopScope
	}
	return &Downloader{Storage: st, Logger: logger, Stats: stats}
}

// Run fetches name over ch and, once the file is complete, writes it to
// Storage.ResolvePath(name). Cancelling ctx closes ch.
func (d *Downloader) Run(ctx context.Context, ch *Channel, name string) error {
	s := &downloadSession{
		name:      name,
		ch:        ch,
		storage:   d.Storage,
		stats:     d.Stats,
		pending:   make(map[uint64]struct{}),
		finishReq: make(chan struct{}),
		quit:      make(chan struct{}),
		writerErr: make(chan error, 1),
		logger: d.Logger.With(
			zap.String("session", uuid.NewString()),
			zap.String("file", name),
			zap.String("peer", ch.RemoteAddr()),
		),
	}

	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	err := s.run()
	if err != nil {
		d.Stats.Counter("sessions_failed").Inc(1)
		s.logger.Warn("download session failed", zap.Stringer("state", s.state), zap.Error(err))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

type downloadSession struct {
	name    string
	ch      *Channel
	storage storage.Storage
	logger  *zap.Logger
	stats   tally.Scope

	state   sessionState
	size    uint64
	pending map[uint64]struct{} // requested and not yet received

	// Once segment requests start, a single writer goroutine owns the
	// outgoing side so replies are read while requests are still going out.
	writer    bool
	finishReq chan struct{}
	quit      chan struct{}
	writerErr chan error
}

func (s *downloadSession) run() error {
	defer close(s.quit)

	s.logger.Info("starting download session")
	if err := s.ch.Send(FetchFileInfo(s.name)); err != nil {
		return err
	}
	s.state = stateAwaitInfo

	for s.state != stateDone {
		msg, err := s.ch.Recv()
		if err != nil {
			select {
			case werr := <-s.writerErr:
				return fmt.Errorf("%s: %w", s.state, werr)
			default:
			}
			return fmt.Errorf("%s: %w", s.state, err)
		}
		if msg.FileName != s.name {
			return fmt.Errorf("%w: %s for %q in session for %q", ErrUnexpectedMessage, msg.Kind, msg.FileName, s.name)
		}
		if err := s.step(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *downloadSession) step(msg Message) error {
	switch {
	case s.state == stateAwaitInfo && msg.Kind == KindFileSize:
		return s.onFileSize(msg)
	case s.state == stateAwaitInfo && msg.Kind == KindNotFound:
		return ErrFileNotFound
	case s.state == stateAwaitNumbers && msg.Kind == KindNumbers:
		return s.onNumbers(msg)
	case s.state == stateFetching && msg.Kind == KindSegment:
		return s.onSegment(msg)
	case s.state == stateAwaitFinishedEcho && msg.Kind == KindSegment:
		// replies to requests issued before completion; harmless to insert
		return s.onSegmentReply(msg)
	case s.state == stateAwaitFinishedEcho && msg.Kind == KindFinished:
		return s.onFinishedEcho()
	}
	return fmt.Errorf("%w: %s while %s", ErrUnexpectedMessage, msg.Kind, s.state)
}

func (s *downloadSession) onFileSize(msg Message) error {
	s.logger.Info("received file size", zap.Uint64("size", msg.Size))
	s.size = msg.Size
	if err := s.storage.CreateEmptyFile(s.name, msg.Size); err != nil {
		return err
	}
	if err := s.ch.Send(FetchNumbers(s.name)); err != nil {
		return err
	}
	s.state = stateAwaitNumbers
	return nil
}

// onNumbers only requests what we don't already hold; other sessions may
// have filled part of the file already.
func (s *downloadSession) onNumbers(msg Message) error {
	if !msg.Known {
		return ErrFileNotFound
	}

	held := make(map[uint64]struct{})
	if local, ok := s.storage.SegmentNumbers(s.name); ok {
		for _, i := range local {
			held[i] = struct{}{}
		}
	}
	// a peer cutting the file with another segment size advertises indices
	// our layout doesn't have
	expected := storage.SegmentCount(s.size, s.storage.SegmentSize())
	var missing []uint64
	for _, i := range msg.Indices {
		if i >= expected {
			return fmt.Errorf("%w: peer advertises segment %d of a %d-segment file", ErrUnexpectedMessage, i, expected)
		}
		if _, ok := held[i]; ok {
			continue
		}
		if _, ok := s.pending[i]; ok {
			continue
		}
		s.pending[i] = struct{}{}
		missing = append(missing, i)
	}
	s.logger.Info("requesting segments",
		zap.Int("advertised", len(msg.Indices)), zap.Int("missing", len(missing)))

	if len(missing) == 0 {
		return s.finish()
	}
	s.state = stateFetching
	s.writer = true
	go s.writeRequests(missing)
	return nil
}

func (s *downloadSession) writeRequests(indices []uint64) {
	if err := s.sendRequests(indices); err != nil {
		s.writerErr <- err
		// unblock the reader
		s.ch.Close()
	}
}

// sendRequests stops issuing requests as soon as finish is asked for, then
// sends Finished itself so it is never overtaken by a late request.
func (s *downloadSession) sendRequests(indices []uint64) error {
	for _, i := range indices {
		select {
		case <-s.finishReq:
			return s.ch.Send(Finished(s.name))
		case <-s.quit:
			return nil
		default:
		}
		if err := s.ch.Send(FetchSegment(s.name, i)); err != nil {
			return err
		}
	}
	select {
	case <-s.finishReq:
		return s.ch.Send(Finished(s.name))
	case <-s.quit:
		return nil
	}
}

func (s *downloadSession) onSegment(msg Message) error {
	if err := s.onSegmentReply(msg); err != nil {
		return err
	}
	if s.storage.IsComplete(s.name) || len(s.pending) == 0 {
		return s.finish()
	}
	return nil
}

func (s *downloadSession) onSegmentReply(msg Message) error {
	if _, ok := s.pending[msg.Index]; !ok {
		return fmt.Errorf("%w: segment %d was never requested", ErrUnexpectedMessage, msg.Index)
	}
	delete(s.pending, msg.Index)
	return s.insert(msg.Segment())
}

func (s *downloadSession) insert(seg storage.Segment) error {
	if err := s.storage.AddSegment(s.name, seg); err != nil {
		if errors.Is(err, storage.ErrSegmentOutOfRange) || errors.Is(err, storage.ErrSegmentLength) {
			return fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
		}
		return err
	}
	s.stats.Counter("segments_received").Inc(1)
	s.logger.Debug("added segment", zap.Uint64("index", seg.Index), zap.Int("bytes", len(seg.Data)))
	return nil
}

func (s *downloadSession) finish() error {
	s.state = stateAwaitFinishedEcho
	if s.writer {
		close(s.finishReq)
		return nil
	}
	return s.ch.Send(Finished(s.name))
}

func (s *downloadSession) onFinishedEcho() error {
	s.state = stateDone
	if !s.storage.IsComplete(s.name) {
		return ErrIncomplete
	}

	data, err := s.storage.Materialize(s.name)
	if err != nil {
		return err
	}
	path := s.storage.ResolvePath(s.name)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to persist %s: %w", path, err)
	}
	s.stats.Counter("downloads_completed").Inc(1)
	s.logger.Info("download complete", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// writeFileAtomic writes through a temp file in the same directory, so
// concurrent sessions finishing the same file never expose a torn copy.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
