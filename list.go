package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"wtcarve/reader"
)

// listCmd lists the collections a data directory's catalog describes,
// including ones whose backing file is gone.
var listCmd = &cobra.Command{
	Use:   "list <data-dir>",
	Short: "List the collections in a data directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, diags, err := reader.ListCollections(args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COLLECTION\tDOCS\tSTATUS")
		for _, info := range infos {
			count := "-"
			if info.HasCount {
				count = humanize.Comma(info.Count)
			}
			status := "ok"
			if !info.Available {
				status = "missing file"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, count, status)
		}
		w.Flush()

		for _, d := range diags {
			fmt.Fprintf(os.Stderr, "warning: %s\n", d)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
