package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newGetCommand() *cobra.Command {
	var f nodeFlags
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Download a file from --peer addresses or the peers a --tracker knows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if len(f.peers) == 0 && f.trackerAddr == "" {
				return fmt.Errorf("need --peer or --tracker to find %s", name)
			}
			st, err := f.storage()
			if err != nil {
				return err
			}
			defer closeStorage(st)

			node := f.node(st)
			ctx := cmd.Context()
			// listen too, so the tracker announcement points somewhere useful
			if err := node.Start(ctx); err != nil {
				return err
			}
			defer node.Stop()

			if err := node.Download(ctx, name); err != nil {
				return fmt.Errorf("download of %s failed: %w", name, err)
			}
			logger.Info("saved", zap.String("file", name), zap.String("path", st.ResolvePath(name)))
			return nil
		},
	}
	f.register(cmd, "127.0.0.1:0")
	return cmd
}
