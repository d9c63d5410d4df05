// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alexzeb78/taury-crm/synclite"
	"github.com/alexzeb78/taury-crm/syncserver"
)

var (
	cfgFile   string
	dbPath    string
	serverURL string
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crmsync",
	Short: "Offline-first sync engine for the taury CRM",
	Long: `crmsync manages the local CRM database and its synchronization
with the central server. All data lives in a local SQLite file and stays
fully usable offline; sync sessions exchange journaled changes with the
server on demand or on a timer.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.taury-crm/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the local database file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "sync server base URL (overrides stored value)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setServerCmd)
	rootCmd.AddCommand(serveCmd)
}

func setup(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(filepath.Join(home, ".taury-crm"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CRMSYNC")
	viper.AutomaticEnv()

	viper.SetDefault("sync_interval", "5m")
	viper.SetDefault("user_id", "default-user")

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, flags and env cover everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return nil
}

// openEngine opens the local database and builds the sync client.
func openEngine() (*synclite.Client, func(), error) {
	path := dbPath
	if path == "" {
		path = viper.GetString("db_path")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(home, ".taury-crm", "crm.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	userID := viper.GetString("user_id")
	secret := viper.GetString("jwt_secret")
	auth := syncserver.NewJWTAuth(secret)

	tok := func(ctx context.Context) (string, error) {
		deviceID, err := synclite.EnsureDeviceID(db)
		if err != nil {
			return "", err
		}
		return auth.GenerateToken(userID, deviceID, time.Hour)
	}

	config := synclite.DefaultConfig(serverURL)
	if interval := viper.GetDuration("sync_interval"); interval > 0 {
		config.SyncInterval = interval
	}

	client, err := synclite.NewClient(db, userID, tok, config, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if serverURL != "" {
		if err := client.SetServerURL(serverURL); err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	cleanup := func() { db.Close() }
	return client, cleanup, nil
}

func main() {
	Execute()
}
