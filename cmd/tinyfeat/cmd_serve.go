package main

import (
	"github.com/spf13/cobra"

	"github.com/nicktill/tinyfeat/pkg/operations"
	"github.com/nicktill/tinyfeat/pkg/server"
	"github.com/nicktill/tinyfeat/pkg/storage/badger"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.ListenAddr = addr
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return a.withStore(func(store *badger.Storage) error {
				srv := server.New(store, operations.Default(), a.cfg, a.log)
				defer srv.Close()
				return srv.Run(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
