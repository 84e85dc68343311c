// Package main implements the tierkbd daemon: a permission-aware
// knowledge base with tiered document access and chat answering.
//
// Configuration is loaded from an optional YAML file plus TIERKB_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	tierkbd serve
//
//	# Start with a config file
//	tierkbd serve --config /etc/tierkb/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the persistent --config flag value.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tierkbd",
	Short: "Access-tiered knowledge base daemon",
	Long: `tierkbd serves a tier-partitioned document knowledge base over HTTP.
Users see only the documents their access tier permits, queries are
answered from a per-identity vector index, and generation runs against
a local Ollama model or the hosted DeepSeek API.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tierkbd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tierkbd server",
	Long: `Start the tierkbd HTTP server.

Examples:
  # Start with defaults
  tierkbd serve

  # Start with a config file
  tierkbd serve --config /etc/tierkb/config.yaml

  # Override a single setting via the environment
  TIERKB_SERVER_PORT=8080 tierkbd serve`,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
