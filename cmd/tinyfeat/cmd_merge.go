package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinyfeat/pkg/merge"
	"github.com/nicktill/tinyfeat/pkg/storage/badger"
)

func newMergeCmd(a *app) *cobra.Command {
	opts := merge.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "merge A B",
		Short: "Combine two snapshots into a new one; A wins on duplicate time series",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Logger = a.log
			return a.withStore(func(store *badger.Storage) error {
				_, ma, err := a.load(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				_, mb, err := a.load(cmd.Context(), store, args[1])
				if err != nil {
					return err
				}
				out, rep, err := merge.Combine(ma, mb, opts)
				if err != nil {
					return err
				}
				h, err := store.Save(cmd.Context(), out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d time series (%d + %d, %d duplicates, %d conflicts) x %d operations (%d + %d dropped)\n",
					h, rep.Rows, rep.RowsA, rep.RowsB, len(rep.Duplicates), len(rep.Conflicts),
					rep.Columns, len(rep.DroppedColumnsA), len(rep.DroppedColumnsB))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.CompareIDs, "compare-ids", opts.CompareIDs, "treat equal time series ids as the same series")
	return cmd
}
