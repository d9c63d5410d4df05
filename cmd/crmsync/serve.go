// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alexzeb78/taury-crm/syncserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the central sync server",
	Long: `serve starts the HTTP sync backend. Configuration comes from the
environment (a .env file is honored):

  DATABASE_URL  Postgres connection string (required)
  JWT_SECRET    shared secret for client tokens (required)
  PORT          listen port (default 8080)
  LOG_FILE      rotating log file path (default stderr only)`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srvLogger := newServerLogger(os.Getenv("LOG_FILE"))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	service, err := syncserver.NewSyncService(pool, &syncserver.ServiceConfig{
		AppName:          "taury-crm",
		MaxPushBatchSize: 500,
		MaxPayloadBytes:  1 << 20,
	}, srvLogger)
	if err != nil {
		return err
	}

	jwtAuth := syncserver.NewJWTAuth(jwtSecret)
	handlers := syncserver.NewHTTPSyncHandlers(service, jwtAuth, srvLogger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/push", handlers.HandlePush)
	mux.HandleFunc("GET /sync/pull", handlers.HandlePull)
	mux.HandleFunc("GET /healthz", handlers.HandleHealth)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srvLogger.Info("sync server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	srvLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newServerLogger builds a JSON logger, optionally teeing into a rotating
// file.
func newServerLogger(logFile string) *slog.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
