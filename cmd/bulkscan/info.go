package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scanlab/bulkscan/internal/image"
)

var infoFlags struct {
	pageSize int
	margin   int
}

var infoCmd = &cobra.Command{
	Use:   "info <image>",
	Short: "Show image geometry without scanning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := image.Options{PageSize: infoFlags.pageSize, Margin: infoFlags.margin}
		img, err := image.Open(args[0], opts)
		if err != nil {
			return err
		}
		defer img.Close()

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s\n", yellow("Image:"))
		fmt.Printf("  Path:      %s\n", img.Filename())
		fmt.Printf("  Size:      %d bytes\n", img.Size())
		fmt.Printf("  Page size: %d bytes\n", img.PageSize())
		fmt.Printf("  Pages:     %d\n", img.MaxBlocks())
		return nil
	},
}

func init() {
	infoCmd.Flags().IntVar(&infoFlags.pageSize, "page-size", 0, "page size in bytes")
	infoCmd.Flags().IntVar(&infoFlags.margin, "margin", -1, "page overlap margin in bytes")
	rootCmd.AddCommand(infoCmd)
}
