package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/claude-vllm-proxy/internal/config"
	"github.com/Davincible/claude-vllm-proxy/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status",
	Long:  `Display whether the proxy is running and which backend it targets.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", procMgr.IsRunning())
	fmt.Printf("  %-15s: %d\n", "PID", procMgr.ReadPID())

	if cfg, err := config.Load(); err != nil {
		color.Yellow("  Configuration : %v", err)
	} else {
		fmt.Printf("  %-15s: http://%s\n", "Endpoint", cfg.Addr())
		fmt.Printf("  %-15s: %s\n", "Backend", cfg.VLLMURL)
		fmt.Printf("  %-15s: %s\n", "Model", cfg.VLLMModel)

		if cfg.VisionURL != "" {
			fmt.Printf("  %-15s: %s (%s)\n", "Vision backend", cfg.VisionURL, cfg.VisionModel)
		}
	}

	fmt.Printf("  %-15s: v%s\n", "Version", Version)
}
