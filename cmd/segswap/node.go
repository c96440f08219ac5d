package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ankesh2004/segswap/internal/server"
	"github.com/Ankesh2004/segswap/internal/storage"
	"github.com/Ankesh2004/segswap/internal/tracker"
)

// nodeFlags are shared by serve and get.
type nodeFlags struct {
	listen      string
	advertise   string
	dir         string
	stateDir    string
	trackerAddr string
	peers       []string
	secure      bool
	segmentSize int
	timeout     time.Duration
	retries     int
	backoff     time.Duration
	maxPeers    int
}

func (f *nodeFlags) register(cmd *cobra.Command, defaultListen string) {
	fs := cmd.Flags()
	fs.StringVar(&f.listen, "listen", defaultListen, "address to serve segments on")
	fs.StringVar(&f.advertise, "advertise", "", "address announced to the tracker (defaults to the bound address)")
	fs.StringVar(&f.dir, "dir", ".", "folder holding shared and downloaded files")
	fs.StringVar(&f.stateDir, "state", "", "keep segments in a resumable on-disk store under this directory")
	fs.StringVar(&f.trackerAddr, "tracker", "", "tracker address used to find and announce peers")
	fs.StringSliceVar(&f.peers, "peer", nil, "peer address to download from (repeatable)")
	fs.BoolVar(&f.secure, "secure", false, "encrypt connections (all peers must agree)")
	fs.IntVar(&f.segmentSize, "segment-size", storage.DefaultSegmentSize, "segment size in bytes (all peers must agree)")
	fs.DurationVar(&f.timeout, "timeout", server.DefaultSessionTimeout, "per message timeout")
	fs.IntVar(&f.retries, "retries", 2, "extra attempts per peer after a connection failure")
	fs.DurationVar(&f.backoff, "backoff", server.DefaultRetryBackoff, "initial retry backoff, doubled each attempt")
	fs.IntVar(&f.maxPeers, "max-peers", server.DefaultMaxConcurrentPeers, "peers downloaded from concurrently")
}

func (f *nodeFlags) storage() (storage.Storage, error) {
	if err := server.CheckSegmentSize(f.segmentSize); err != nil {
		return nil, fmt.Errorf("--segment-size: %w", err)
	}
	if f.stateDir == "" {
		return storage.NewMemoryStorage(f.dir, f.segmentSize), nil
	}
	disk, err := storage.NewDiskStorage(storage.DiskStorageOptions{
		RootDir:     f.stateDir,
		Folder:      f.dir,
		SegmentSize: f.segmentSize,
	})
	if err != nil {
		return nil, err
	}
	return disk, nil
}

// closeStorage flushes storage backends that buffer their bookkeeping.
func closeStorage(st storage.Storage) {
	if c, ok := st.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("failed to flush storage", zap.Error(err))
		}
	}
}

func (f *nodeFlags) node(st storage.Storage) *server.Node {
	opts := server.NodeOptions{
		ListenAddr:         f.listen,
		AdvertiseAddr:      f.advertise,
		Storage:            st,
		Logger:             logger,
		Secure:             f.secure,
		SessionTimeout:     f.timeout,
		Retries:            f.retries,
		RetryBackoff:       f.backoff,
		MaxConcurrentPeers: f.maxPeers,
	}
	if len(f.peers) > 0 {
		opts.Resolver = server.StaticResolver(f.peers)
	}
	if f.trackerAddr != "" {
		tc := tracker.NewClient(f.trackerAddr)
		if opts.Resolver == nil {
			opts.Resolver = tc
		}
		opts.Announcer = tc
	}
	return server.NewNode(opts)
}
