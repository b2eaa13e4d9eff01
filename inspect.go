package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"wtcarve/blockfile"
	"wtcarve/catalog"
)

// inspectCmd shows how a collection is stored: its backing file, format
// strings, compressor and root address.
var inspectCmd = &cobra.Command{
	Use:   "inspect <data-dir> <collection>",
	Short: "Show a collection's on-disk layout details",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(args[0])
		if err != nil {
			return err
		}
		entry, err := cat.Resolve(args[1])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "collection:   %s\n", entry.Name)
		fmt.Fprintf(out, "backing file: %s\n", entry.FilePath)
		fmt.Fprintf(out, "key format:   %s\n", entry.KeyFormat)
		fmt.Fprintf(out, "value format: %s\n", entry.ValueFormat)
		fmt.Fprintf(out, "compressor:   %s\n", entry.Compressor)
		fmt.Fprintf(out, "alloc size:   %s\n", humanize.IBytes(uint64(entry.AllocSize)))
		fmt.Fprintf(out, "root:         %s\n", entry.Root)

		if !entry.Available {
			fmt.Fprintf(out, "status:       backing file missing\n")
			return nil
		}
		handle, err := blockfile.Open(entry.FilePath)
		if err != nil {
			return err
		}
		defer handle.Close()
		desc := handle.Desc()
		fmt.Fprintf(out, "file size:    %s\n", humanize.IBytes(uint64(handle.FileSize())))
		fmt.Fprintf(out, "format:       v%d.%d (magic %#x)\n", desc.Major, desc.Minor, desc.Magic)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
