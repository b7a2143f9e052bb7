package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bulkscan",
	Short: "Forensic bulk data extractor",
	Long: `bulkscan splits a disk image, raw device or file into pages and runs a
registry of content scanners over every page in parallel, recursing into
decodable substructure (compressed regions) as scanners uncover it.

Findings land in append-only feature files (or an SQLite database) and an
XML run report.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
