// Package main provides the CLI entry point for the agent execution engine.
//
// agentengine runs the five-phase job pipeline (ingestion, policy,
// execution, serialization) behind a small HTTP binding.
//
// # Basic Usage
//
// Start the server:
//
//	agentengine serve --config agentengine.yaml
//
// Apply the storage schema:
//
//	agentengine migrate up
//
// Check configuration and storage connectivity:
//
//	agentengine doctor
//
// # Environment Variables
//
//   - AGENTENGINE_CONFIG: path to the configuration file (default: agentengine.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key, when llm.provider is "anthropic"
//   - OPENAI_API_KEY: OpenAI API key, when llm.provider is "openai"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentengine",
		Short: "agentengine - agent execution engine",
		Long: `agentengine runs jobs through a five-phase pipeline: ingestion
(schema validation, intent signature, result-cache lookup), policy
(tier resolution and rate/depth/context enforcement), execution (the
bounded reason-act loop over an LLM and its tools), and serialization
(cost attribution, billing, and response validation).`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}

func resolveConfigPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("AGENTENGINE_CONFIG"); env != "" {
		return env
	}
	return "agentengine.yaml"
}
