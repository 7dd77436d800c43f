package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Set by linker flags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// versionCmd shows the verbose version for diagnostic purposes.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of aocascore.",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("aocascore CLI\n")
		cmd.Printf("  Version: %s\n", version)
		cmd.Printf("  Commit:  %s\n", commit)
		cmd.Printf("  Built:   %s\n", date)
		cmd.Printf("  Runtime: %s\n", runtime.Version())
	},
}
