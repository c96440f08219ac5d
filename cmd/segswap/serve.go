package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ankesh2004/segswap/internal/storage"
)

func newServeCommand() *cobra.Command {
	var (
		f           nodeFlags
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Share every file in --dir until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := f.storage()
			if err != nil {
				return err
			}
			defer closeStorage(st)
			n, err := storage.LoadDir(st, f.dir)
			if err != nil {
				return err
			}
			logger.Info("loaded shared files", zap.String("dir", f.dir), zap.Int("files", n))

			node := f.node(st)
			ctx := cmd.Context()
			if err := node.Start(ctx); err != nil {
				return err
			}
			defer node.Stop()

			if interactive {
				commandLoop(ctx, node)
				return nil
			}
			<-ctx.Done()
			logger.Info("shutting down")
			return nil
		},
	}
	f.register(cmd, ":7000")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read commands from stdin")
	return cmd
}
