// Command ctxkeeperd runs the context store daemon: a long-lived
// process that serves JSON-RPC tool calls over stdio to one host
// process at a time (spec.md §1, §6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:           "ctxkeeperd",
	Short:         "Long-lived context/memory store for an LLM coding assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override the database path from config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ctxkeeperd: "+err.Error())
		os.Exit(1)
	}
}
