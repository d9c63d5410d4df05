// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var watchMode bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync session (or keep syncing with --watch)",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&watchMode, "watch", false, "keep running and sync periodically")
}

func runSync(cmd *cobra.Command, _ []string) error {
	client, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watchMode {
		client.Start(ctx)
		fmt.Println("Background sync running, press Ctrl-C to stop.")
		<-ctx.Done()
		return nil
	}

	result, err := client.Sync(ctx)
	if err != nil {
		return err
	}

	if !result.Success {
		color.Red("Sync failed: %s", result.Message)
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
		return fmt.Errorf("sync did not complete")
	}

	color.Green("Sync completed")
	fmt.Printf("  items synced: %d\n", result.ItemsSynced)
	if result.Conflicts > 0 {
		color.Yellow("  conflicts resolved (server won): %d", result.Conflicts)
	}
	for _, e := range result.Errors {
		color.Red("  rejected: %s", e)
	}
	if result.NewTimestamp > 0 {
		fmt.Printf("  watermark: %s\n", time.UnixMilli(result.NewTimestamp).UTC().Format(time.RFC3339))
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync engine status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		status, err := client.Status(context.Background())
		if err != nil {
			return err
		}

		if status.IsOnline {
			color.Green("online")
		} else {
			color.Red("offline")
		}
		fmt.Printf("  server:          %s\n", orNone(status.ServerURL))
		fmt.Printf("  pending changes: %d\n", status.PendingChanges)
		if status.LastSync > 0 {
			fmt.Printf("  last sync:       %s\n", time.UnixMilli(status.LastSync).UTC().Format(time.RFC3339))
		} else {
			fmt.Printf("  last sync:       never\n")
		}
		if status.IsSyncing {
			color.Yellow("  sync in progress")
		}
		return nil
	},
}

var setServerCmd = &cobra.Command{
	Use:   "set-server <url>",
	Short: "Set the sync server base URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := client.SetServerURL(args[0]); err != nil {
			return err
		}
		fmt.Printf("Server URL set to %s\n", args[0])
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}
