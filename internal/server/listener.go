package server

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/Ankesh2004/segswap/internal/storage"
)

// Listener answers a remote client from Storage. It keeps no state of its
// own between messages, so one Listener serves any number of connections.
type Listener struct {
	Storage storage.Storage
	Logger  *zap.Logger
	Stats   tally.Scope
}

func NewListener(st storage.Storage, logger *zap.Logger, stats tally.Scope) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = tally.NoopScope
	}
	return &Listener{Storage: st, Logger: logger, Stats: stats}
}

// Serve handles ch until the client hangs up. Several file sessions may
// share the connection. A protocol violation ends the whole connection.
func (l *Listener) Serve(ch *Channel) error {
	l.Stats.Counter("listener_connections").Inc(1)
	logger := l.Logger.With(zap.String("peer", ch.RemoteAddr()))

	for {
		msg, err := ch.Recv()
		if err != nil {
			if isHangup(err) {
				return nil
			}
			return err
		}
		if err := l.handleMessage(ch, logger, msg); err != nil {
			logger.Warn("closing listener session",
				zap.String("file", msg.FileName), zap.Stringer("kind", msg.Kind), zap.Error(err))
			l.Stats.Counter("listener_sessions_failed").Inc(1)
			return err
		}
	}
}

func (l *Listener) handleMessage(ch *Channel, logger *zap.Logger, msg Message) error {
	switch msg.Kind {
	case KindFetchFileInfo:
		return l.handleFetchFileInfo(ch, logger, msg)
	case KindFetchNumbers:
		return l.handleFetchNumbers(ch, logger, msg)
	case KindFetchSegment:
		return l.handleFetchSegment(ch, logger, msg)
	case KindFinished:
		logger.Info("transfer complete", zap.String("file", msg.FileName))
		return ch.Send(Finished(msg.FileName))
	default:
		// client-bound kinds never travel this way
		return fmt.Errorf("%w: listener got %s", ErrUnexpectedMessage, msg.Kind)
	}
}

func (l *Listener) handleFetchFileInfo(ch *Channel, logger *zap.Logger, msg Message) error {
	size, ok := l.Storage.FileSize(msg.FileName)
	if !ok {
		logger.Info("file info requested for unknown file", zap.String("file", msg.FileName))
		return ch.Send(NotFound(msg.FileName))
	}
	logger.Info("sending file info", zap.String("file", msg.FileName), zap.Uint64("size", size))
	return ch.Send(FileSize(msg.FileName, size))
}

func (l *Listener) handleFetchNumbers(ch *Channel, logger *zap.Logger, msg Message) error {
	indices, ok := l.Storage.SegmentNumbers(msg.FileName)
	logger.Debug("sending segment numbers",
		zap.String("file", msg.FileName), zap.Bool("known", ok), zap.Int("count", len(indices)))
	return ch.Send(Numbers(msg.FileName, indices, ok))
}

func (l *Listener) handleFetchSegment(ch *Channel, logger *zap.Logger, msg Message) error {
	seg, err := l.Storage.Segment(msg.FileName, msg.Index)
	if err != nil {
		// the client asked for something we never advertised
		return fmt.Errorf("%w: %w", ErrUnexpectedMessage, err)
	}
	logger.Debug("sending segment", zap.String("file", msg.FileName), zap.Uint64("index", seg.Index))
	if err := ch.Send(SegmentMessage(msg.FileName, seg)); err != nil {
		return err
	}
	l.Stats.Counter("segments_served").Inc(1)
	return nil
}

// isHangup reports a clean end of the connection by the remote side.
func isHangup(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
