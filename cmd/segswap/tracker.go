package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Ankesh2004/segswap/internal/tracker"
)

func newTrackerCommand() *cobra.Command {
	var (
		listen string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Run a tracker that maps file names to peer addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := tracker.NewServer(tracker.ServerOptions{
				ListenAddr: listen,
				PeerTTL:    ttl,
				Logger:     logger,
			})
			if err := t.Start(); err != nil {
				return err
			}
			defer t.Stop()
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":6969", "address to accept tracker requests on")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "forget announcements older than this (0 keeps them)")
	return cmd
}
