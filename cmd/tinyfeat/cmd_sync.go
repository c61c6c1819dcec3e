package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinyfeat/pkg/agglomerate"
	"github.com/nicktill/tinyfeat/pkg/agglomerate/sqlite"
	"github.com/nicktill/tinyfeat/pkg/config"
	"github.com/nicktill/tinyfeat/pkg/storage/badger"
)

func (a *app) openRemote(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create remote directory: %w", err)
		}
	}
	return sqlite.Open(path, config.RemotePoolSize, a.log)
}

func newSyncCmd(a *app) *cobra.Command {
	var mode, remotePath string
	cmd := &cobra.Command{
		Use:   "sync HANDLE",
		Short: "Write good local results into the remote store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("mode") {
				mode = a.cfg.Sync.Mode
			}
			if !cmd.Flags().Changed("remote") {
				remotePath = a.cfg.Sync.RemotePath
			}
			m, err := agglomerate.ParseMode(mode)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return a.withStore(func(store *badger.Storage) error {
				h, local, err := a.load(ctx, store, args[0])
				if err != nil {
					return err
				}
				remote, err := a.openRemote(remotePath)
				if err != nil {
					return err
				}
				defer remote.Close()

				session, err := remote.Connect(ctx)
				if err != nil {
					return err
				}
				lastLog := time.Now()
				rep, err := agglomerate.Run(ctx, local, session, m, agglomerate.Options{
					Logger: a.log.With(slog.String("handle", string(h))),
					OnProgress: func(r agglomerate.Report) {
						if time.Since(lastLog) < time.Second {
							return
						}
						lastLog = time.Now()
						a.log.Info("progress", slog.Int("written", r.Written), slog.Int("candidates", r.Candidates))
					},
				})
				if rep != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s -> %s (%s): %d candidates, %d written, %d errors left, %d skipped\n",
						h, remotePath, rep.Mode, rep.Candidates, rep.Written, rep.LeftPending, rep.Skipped)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "remote cells to fill: null, error or nullerror")
	cmd.Flags().StringVar(&remotePath, "remote", "", "remote SQLite database")
	return cmd
}

func newRemoteInitCmd(a *app) *cobra.Command {
	var remotePath string
	cmd := &cobra.Command{
		Use:   "remote-init HANDLE",
		Short: "Register a snapshot's time series and operations in the remote store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("remote") {
				remotePath = a.cfg.Sync.RemotePath
			}
			return a.withStore(func(store *badger.Storage) error {
				h, m, err := a.load(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				remote, err := a.openRemote(remotePath)
				if err != nil {
					return err
				}
				defer remote.Close()
				if err := remote.Seed(cmd.Context(), m); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s -> %s: %d time series x %d operations registered\n",
					h, remotePath, m.NumRows(), m.NumColumns())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&remotePath, "remote", "", "remote SQLite database")
	return cmd
}

func newRemoteDeleteCmd(a *app) *cobra.Command {
	var (
		remotePath string
		rows       []int64
	)
	cmd := &cobra.Command{
		Use:   "remote-delete",
		Short: "Remove time series and their results from the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(rows) == 0 {
				return fmt.Errorf("--rows is required")
			}
			if !cmd.Flags().Changed("remote") {
				remotePath = a.cfg.Sync.RemotePath
			}
			remote, err := a.openRemote(remotePath)
			if err != nil {
				return err
			}
			defer remote.Close()
			if err := remote.DeleteSeries(cmd.Context(), rows...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d time series deleted\n", remotePath, len(rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&remotePath, "remote", "", "remote SQLite database")
	cmd.Flags().Int64SliceVar(&rows, "rows", nil, "time series ids to delete")
	return cmd
}
