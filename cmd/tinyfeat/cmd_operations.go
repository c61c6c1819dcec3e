package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinyfeat/pkg/operations"
)

func newOperationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List registered master operations and the columns init creates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := operations.Default()
			cols := operations.Columns(1)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MASTER\tCOLUMNS")
			for _, name := range reg.Names() {
				var ids []string
				for _, op := range cols {
					if op.Master == name {
						ids = append(ids, fmt.Sprintf("%d:%s", op.ID, op.Name))
					}
				}
				fmt.Fprintf(tw, "%s\t%s\n", name, strings.Join(ids, " "))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d masters, %d columns\n", reg.Len(), len(cols))
			return nil
		},
	}
}
