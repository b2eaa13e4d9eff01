package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wtcarve/reader"
)

var dumpLimit int

// dumpCmd streams a collection's documents as JSON, one per line. The scan
// is lazy: with --limit only the needed pages are read.
var dumpCmd = &cobra.Command{
	Use:   "dump <data-dir> <collection>",
	Short: "Dump a collection's documents as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		col, err := reader.Open(args[0], args[1])
		if err != nil {
			return err
		}
		defer col.Close()

		cur := col.Documents(cmd.Context(), dumpLimit)
		out := cmd.OutOrStdout()
		for {
			doc, ok := cur.Next()
			if !ok {
				break
			}
			if doc.Err != nil {
				fmt.Fprintf(os.Stderr, "warning: record %d: %v\n", doc.RecordID, doc.Err)
				continue
			}
			line, err := json.Marshal(doc.Body)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", line)
		}
		if err := cur.Err(); err != nil {
			return err
		}
		for _, d := range cur.Diagnostics() {
			fmt.Fprintf(os.Stderr, "warning: %s\n", d)
		}
		return nil
	},
}

func init() {
	dumpCmd.Flags().IntVar(&dumpLimit, "limit", 0, "stop after this many documents (0 = all)")
	rootCmd.AddCommand(dumpCmd)
}
