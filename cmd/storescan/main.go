package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/colfam/storescan/storage"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "storescan",
	Short: "Tools for scanning column-family segment files and memstores",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey {
						return slog.Attr{} // omit timestamp for concise CLI output
					}
					return a
				},
			})
			storage.SetLogger(slog.New(h))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "log storage requests and latency to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
