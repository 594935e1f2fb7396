package main

import (
	"fmt"
	"os"

	"github.com/bit2swaz/chatrelay/internal/config"
	"github.com/bit2swaz/chatrelay/internal/logger"
	"github.com/bit2swaz/chatrelay/internal/settings"
	"github.com/bit2swaz/chatrelay/internal/store"
	"github.com/spf13/cobra"
)

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:           "chatrelay",
	Short:         "Peer-to-peer UDP chat relay",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()
		if err := cfg.ApplyEnv(cmd.Flags().Changed); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := logger.Init(cfg.LogFile, cfg.LogLevel); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.IntVarP(&cfg.Port, "port", "p", cfg.Port, "UDP port to listen on")
	f.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for the database and settings files")
	f.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Database driver (sqlite or postgres)")
	f.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "Database DSN (defaults to a per-port sqlite file)")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file path")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	f.Float64Var(&cfg.Latitude, "lat", cfg.Latitude, "Latitude attached to outgoing messages")
	f.Float64Var(&cfg.Longitude, "lon", cfg.Longitude, "Longitude attached to outgoing messages")

	rootCmd.AddCommand(startCmd, sendCmd, peersCmd, historyCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.DBDriver, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}

// openSettings loads the per-port settings and applies --nick when given.
func openSettings() (*settings.Settings, error) {
	s, err := settings.LoadOrCreate(cfg.SettingsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if cfg.Nick != "" && cfg.Nick != s.SenderName() {
		if err := s.SetSenderName(cfg.Nick); err != nil {
			return nil, err
		}
	}
	return s, nil
}
