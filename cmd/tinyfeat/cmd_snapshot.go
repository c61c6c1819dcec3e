package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinyfeat/pkg/export"
	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/operations"
	"github.com/nicktill/tinyfeat/pkg/storage"
	"github.com/nicktill/tinyfeat/pkg/storage/badger"
)

func newInitCmd(a *app) *cobra.Command {
	var (
		seriesPath string
		keyword    string
		opKeyword  string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a snapshot with every cell pending from a time series file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(seriesPath)
			if err != nil {
				return err
			}
			defer f.Close()

			series, warnings, err := export.ReadSeries(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", seriesPath, err)
			}
			for _, w := range warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}

			var rows []matrix.TimeSeries
			for _, ts := range series {
				if keyword == "" || ts.HasKeyword(keyword) {
					rows = append(rows, ts)
				}
			}
			var cols []matrix.Operation
			for _, op := range operations.Columns(1) {
				if opKeyword == "" || op.HasKeyword(opKeyword) {
					cols = append(cols, op)
				}
			}

			m, err := matrix.New(rows, cols)
			if err != nil {
				return err
			}
			return a.withStore(func(store *badger.Storage) error {
				h, err := store.Save(cmd.Context(), m)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d time series x %d operations, %d cells pending\n",
					h, m.NumRows(), m.NumColumns(), m.NumCells())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&seriesPath, "series", "", "JSON array of time series")
	cmd.Flags().StringVar(&keyword, "keyword", "", "keep only time series tagged with this keyword")
	cmd.Flags().StringVar(&opKeyword, "op-keyword", "", "keep only operations tagged with this keyword")
	_ = cmd.MarkFlagRequired("series")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect HANDLE",
		Short: "Print cell counts of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *badger.Storage) error {
				_, m, err := a.load(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), m.Summarize())
			})
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *badger.Storage) error {
				infos, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "HANDLE\tROWS\tCOLUMNS\tGOOD\tERRORS\tPENDING\tUPDATED")
				for _, info := range infos {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
						info.Handle, info.Rows, info.Columns, info.Good, info.Errors, info.Pending,
						info.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export HANDLE FILE",
		Short: "Write a snapshot as a JSON document or a CSV value table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *badger.Storage) error {
				h, err := storage.ParseHandle(args[0])
				if err != nil {
					return err
				}
				if _, err := store.Info(cmd.Context(), h); err != nil {
					return err
				}
				f, err := os.Create(args[1])
				if err != nil {
					return err
				}
				res, err := export.NewExporter(store).Export(cmd.Context(), f, h, format)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s: %d time series, %d operations, %d results\n",
					h, args[1], res.Rows, res.Columns, res.Results)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or csv")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Load a JSON snapshot document under a new handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return a.withStore(func(store *badger.Storage) error {
				res, err := export.NewImporter(store).ImportFromJSON(cmd.Context(), f)
				if err != nil {
					return err
				}
				for _, w := range res.Warnings {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d time series x %d operations, %d results imported\n",
					res.Handle, res.Rows, res.Columns, res.Results)
				return nil
			})
		},
	}
}

func newSubsetCmd(a *app) *cobra.Command {
	var rows, cols, dropRows, dropCols []int64
	cmd := &cobra.Command{
		Use:   "subset HANDLE",
		Short: "Save selected rows and columns of a snapshot under a new handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *badger.Storage) error {
				_, m, err := a.load(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				sub, err := m.Subset(rows, cols)
				if err != nil {
					return err
				}
				if len(dropRows) > 0 {
					if sub, err = sub.RemoveRows(dropRows...); err != nil {
						return err
					}
				}
				if len(dropCols) > 0 {
					if sub, err = sub.RemoveColumns(dropCols...); err != nil {
						return err
					}
				}
				h, err := store.Save(cmd.Context(), sub)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d time series x %d operations\n",
					h, sub.NumRows(), sub.NumColumns())
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&rows, "rows", nil, "time series ids to keep (default all)")
	cmd.Flags().Int64SliceVar(&cols, "cols", nil, "operation ids to keep (default all)")
	cmd.Flags().Int64SliceVar(&dropRows, "drop-rows", nil, "time series ids to remove")
	cmd.Flags().Int64SliceVar(&dropCols, "drop-cols", nil, "operation ids to remove")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var (
		rows, cols []int64
		which      string
	)
	cmd := &cobra.Command{
		Use:   "clear HANDLE",
		Short: "Reset selected cells of a snapshot to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := matrix.ParseWhich(which)
			if err != nil {
				return err
			}
			return a.withStore(func(store *badger.Storage) error {
				h, m, err := a.load(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				cleared, n, err := m.Clear(matrix.Filter{Which: w, RowIDs: rows, ColumnIDs: cols})
				if err != nil {
					return err
				}
				if err := store.Overwrite(cmd.Context(), h, cleared); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d cells cleared\n", h, n)
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&rows, "rows", nil, "time series ids (default all)")
	cmd.Flags().Int64SliceVar(&cols, "cols", nil, "operation ids (default all)")
	cmd.Flags().StringVar(&which, "which", string(matrix.WhichAll), "cells to clear: missing, error, both or all")
	return cmd
}
