// Package main provides the imgsieve CLI: collection processing and the
// triage API server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "imgsieve",
	Short: "Interactive image-collection triage",
	Long: `imgsieve turns a directory of feature vectors into a processed collection
and serves interactive triage sessions over it.

Run "imgsieve process" once per collection, then "imgsieve serve" to let
analysts sort it into buckets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
