// Package cmd implements the CLI: start, stop, status and config.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	AppName = "claude-vllm-proxy"
	Version = "1.0.0"
)

var (
	logger  *slog.Logger
	baseDir string
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Error("Failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
}

var rootCmd = &cobra.Command{
	Use:     AppName,
	Short:   "Anthropic-to-vLLM proxy for Mistral coding models",
	Long:    `A proxy that lets Anthropic- and OpenAI-dialect coding clients talk to Mistral-family models served by an OpenAI-compatible backend such as vLLM.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging rebuilds the logger from LOG_LEVEL and the verbose flag;
// verbose wins.
func setupLogging(level string, verbose bool) {
	logLevel := slog.LevelInfo

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	if verbose {
		logLevel = slog.LevelDebug
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
