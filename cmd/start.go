package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/claude-vllm-proxy/internal/config"
	"github.com/Davincible/claude-vllm-proxy/internal/process"
	"github.com/Davincible/claude-vllm-proxy/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy",
	Long:  `Start the proxy in the foreground. Configuration comes from the environment and an optional .env file.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgMgr := config.NewManager()

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(cfg.LogLevel, verbose)

	color.Green("Starting %s v%s...", AppName, Version)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	return server.New(cfgMgr, logger).Start()
}
