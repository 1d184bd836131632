// Command multiraftd is a process wrapper around pkg/multiraft, grounded
// on cuemby-warren/cmd/warren's command-tree shape: a cobra root command
// with global logging flags and an init hook, plus a serve subcommand that
// brings a node up and a bootstrap subcommand that prints a starter config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/multiraft/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "multiraftd",
	Short: "multiraftd runs a multi-group Raft consensus node",
	Long: `multiraftd hosts one or more Raft consensus groups on a single
process: it owns the durable log storage, the network transport to its
peers, and the client-facing proposal/read-index/membership surface.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}
