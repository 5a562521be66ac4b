package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/claude-vllm-proxy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long:  `Print the configuration as resolved from the environment and .env, with secrets masked.`,
	RunE:  runConfig,
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	color.Blue("Configuration for %s:", AppName)
	fmt.Printf("  %-18s: %s\n", "HOST", cfg.Host)
	fmt.Printf("  %-18s: %d\n", "PORT", cfg.Port)
	fmt.Printf("  %-18s: %s\n", "API_KEY", maskSecret(cfg.APIKey))
	fmt.Printf("  %-18s: %s\n", "VLLM_URL", cfg.VLLMURL)
	fmt.Printf("  %-18s: %s\n", "VLLM_API_KEY", maskSecret(cfg.VLLMAPIKey))
	fmt.Printf("  %-18s: %s\n", "VLLM_MODEL", cfg.VLLMModel)
	fmt.Printf("  %-18s: %s\n", "VISION_URL", cfg.VisionURL)
	fmt.Printf("  %-18s: %s\n", "VISION_API_KEY", maskSecret(cfg.VisionAPIKey))
	fmt.Printf("  %-18s: %s\n", "VISION_MODEL", cfg.VisionModel)
	fmt.Printf("  %-18s: %v\n", "TELEMETRY_ENABLED", cfg.TelemetryEnabled)
	fmt.Printf("  %-18s: %s\n", "TELEMETRY_ENDPOINT", cfg.TelemetryEndpoint)
	fmt.Printf("  %-18s: %s\n", "LOG_LEVEL", cfg.LogLevel)

	return nil
}

func maskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}

	if len(secret) <= 4 {
		return "****"
	}

	return secret[:4] + "****"
}
