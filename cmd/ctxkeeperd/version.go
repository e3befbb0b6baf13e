package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("ctxkeeperd " + version)
		return nil
	},
}
