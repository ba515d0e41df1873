package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/scenesync/internal/config"
	"github.com/aretw0/scenesync/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scenesync",
	Short: "scenesync replicates scene documents between peers",
	Long: `scenesync keeps copies of a hierarchical scene document in sync.
Local edits are batched into patch envelopes and fanned out over Redis,
WebSocket and SSE; inbound envelopes are replayed idempotently.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "scenesync.yaml", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides the config file)")
	rootCmd.PersistentFlags().String("store", "", "Snapshot store: memory, file or redis (overrides the config file)")
}

// loadConfig reads the config file and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if driver, _ := cmd.Flags().GetString("store"); driver != "" {
		cfg.Store.Driver = driver
		if err := cfg.Validate(); err != nil {
			return cfg, nil, err
		}
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logging.New(level), nil
}
