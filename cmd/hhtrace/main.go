// Package main provides the hhtrace CLI, a diagnostics companion for
// the HoneyHive tracing SDK.
//
// # Basic Usage
//
// Check configuration and environment detection:
//
//	hhtrace doctor
//
// Send a synthetic test event through the full pipeline:
//
//	hhtrace send --name smoke-test
//
// Inspect or validate a translation bundle:
//
//	hhtrace bundle show
//	hhtrace bundle validate custom.yaml
//
// # Environment Variables
//
// The CLI reads the same HH_* variables as the SDK:
//
//   - HH_API_KEY: API key for the ingestion endpoint
//   - HH_PROJECT: Project name
//   - HH_SOURCE: Source tag (default: dev)
//   - HH_API_URL: Ingestion base URL override
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hhtrace",
		Short: "HoneyHive tracing SDK diagnostics",
		Long: `hhtrace inspects and exercises the HoneyHive tracing pipeline from the
command line: configuration resolution, environment detection, provider
coexistence, translation bundles, and end-to-end event delivery.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildDoctorCmd(),
		buildSendCmd(),
		buildBundleCmd(),
	)
	return rootCmd
}
