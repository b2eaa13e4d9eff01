// wtcarve reads MongoDB collections straight out of a WiredTiger data
// directory, without starting the storage engine. It is a forensic tool:
// everything is read-only, and partially damaged files yield whatever
// records survive plus diagnostics, instead of nothing.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wtcarve",
	Short: "Offline reader for WiredTiger data directories",
	Long: `wtcarve decodes WiredTiger files directly: it parses the turtle
bootstrap metadata, walks the catalog B-tree to find each collection's
backing file, and decodes pages, cells and BSON documents from the raw
blocks. The engine is never started and nothing is ever written.

Useful when a node will not start, a volume is mounted read-only, or a
snapshot needs to be inspected without touching it.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
