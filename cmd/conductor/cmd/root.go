package cmd

import (
	"context"
	"fmt"
	"os"

	"conductor/core/config"
	"conductor/core/logger"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:     "conductor",
	Short:   "Conductor session CLI",
	Long:    "Conductor runs batches of asynchronous operations through a session and reports their events.",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to conductor.yaml (default: search ., ./configs, /etc/conductor)")
}

// Execute runs the root command. ctx is cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context) {
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}
