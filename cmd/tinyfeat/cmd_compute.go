package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/operations"
	"github.com/nicktill/tinyfeat/pkg/runner"
	"github.com/nicktill/tinyfeat/pkg/storage/badger"
)

func newComputeCmd(a *app) *cobra.Command {
	var (
		which      string
		workers    int
		timeout    time.Duration
		rows, cols []int64
	)
	cmd := &cobra.Command{
		Use:   "compute HANDLE",
		Short: "Compute selected cells of a snapshot, checkpointing as it goes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("which") {
				which = a.cfg.Runner.Which
			}
			w, err := matrix.ParseWhich(which)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Runner.Workers
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = a.cfg.Runner.CellTimeout
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return a.withStore(func(store *badger.Storage) error {
				h, m, err := a.load(ctx, store, args[0])
				if err != nil {
					return err
				}

				lastLog := time.Now()
				r := runner.New(operations.Default(), runner.Options{
					Workers:         workers,
					Filter:          matrix.Filter{Which: w, RowIDs: rows, ColumnIDs: cols},
					CellTimeout:     timeout,
					MasterMemoSize:  a.cfg.Runner.MasterMemoSize,
					CheckpointEvery: a.cfg.Runner.CheckpointEvery,
					Checkpoint: func(ctx context.Context, m *matrix.Matrix) error {
						return store.Overwrite(ctx, h, m)
					},
					OnProgress: func(p runner.Progress) {
						if time.Since(lastLog) < time.Second && p.Done < p.Total {
							return
						}
						lastLog = time.Now()
						a.log.Info("progress",
							slog.String("handle", string(h)),
							slog.Int("done", p.Done),
							slog.Int("total", p.Total),
							slog.Int("errors", p.Errors))
					},
					Logger: a.log.With(slog.String("handle", string(h))),
				})

				rep, err := r.Run(ctx, m)
				if rep != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d of %d cells computed, %d good, %d errors, %d checkpoints in %s\n",
						h, rep.Computed, rep.Selected, rep.Good, rep.Errors, rep.Checkpoints, rep.Elapsed.Round(time.Millisecond))
					for reason, n := range rep.ByReason {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", reason, n)
					}
				}
				if errors.Is(err, context.Canceled) {
					fmt.Fprintln(cmd.ErrOrStderr(), "interrupted; computed cells were saved")
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&which, "which", "", "cells to compute: missing, error, both or all")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent workers")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-cell timeout (0 disables)")
	cmd.Flags().Int64SliceVar(&rows, "rows", nil, "restrict to these time series ids")
	cmd.Flags().Int64SliceVar(&cols, "cols", nil, "restrict to these operation ids")
	return cmd
}
