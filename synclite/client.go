// Package synclite is the embedded offline-first store and sync engine for
// the CRM desktop client. All reads and writes go against a local SQLite
// database; a change journal records local edits and a reconciler exchanges
// them with the server on demand.
//
// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// sync_meta keys
const (
	metaLastSyncTimestamp = "last_sync_timestamp"
	metaServerURL         = "server_url"
)

// Client manages the local SQLite database and two-way sync with the server.
type Client struct {
	DB       *sql.DB
	DeviceID string
	UserID   string
	Token    func(context.Context) (string, error) // returns JWT

	transport *Transport
	state     *StateManager
	config    *Config
	logger    *slog.Logger

	// Serialize local writes; SQLite allows one writer and the sync
	// session must see a stable journal snapshot.
	writeMu sync.Mutex
}

// Config holds configuration for the sync client.
type Config struct {
	ServerURL      string        // Initial server base URL, may be changed later
	RequestTimeout time.Duration // Per-request HTTP timeout
	ProbeTimeout   time.Duration // Health probe timeout
	SyncInterval   time.Duration // Background sync period, 0 disables the loop
}

// DefaultConfig returns the stock configuration.
func DefaultConfig(serverURL string) *Config {
	return &Config{
		ServerURL:      serverURL,
		RequestTimeout: 30 * time.Second,
		ProbeTimeout:   5 * time.Second,
		SyncInterval:   5 * time.Minute,
	}
}

// NewClient opens the sync engine over an existing database handle. It
// creates the schema, seeds reference data and installs the journal
// triggers for every synced table.
func NewClient(db *sql.DB, userID string, tok func(ctx context.Context) (string, error), config *Config, logger *slog.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deviceID, err := EnsureDeviceID(db)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure device id: %w", err)
	}

	client := &Client{
		DB:       db,
		DeviceID: deviceID,
		UserID:   userID,
		Token:    tok,
		config:   config,
		logger:   logger,
	}
	client.transport = &Transport{
		HTTP:     &http.Client{Timeout: config.RequestTimeout},
		Token:    tok,
		DeviceID: deviceID,
	}
	client.state = newStateManager(client)

	for i := range syncedTables {
		if err := createTriggersForTable(db, &syncedTables[i]); err != nil {
			return nil, fmt.Errorf("failed to create triggers for table %s: %w", syncedTables[i].Name, err)
		}
	}

	// The URL persisted from a previous run wins over the configured one.
	stored, err := client.getMeta(metaServerURL)
	if err != nil {
		return nil, err
	}
	if stored == "" && config.ServerURL != "" {
		if err := client.setMeta(metaServerURL, config.ServerURL); err != nil {
			return nil, err
		}
	}

	return client, nil
}

// EnsureDeviceID generates and persists a device ID if not already present.
// The ID survives restarts so the server can attribute changes to this
// installation across sessions.
func EnsureDeviceID(db *sql.DB) (string, error) {
	var deviceID string
	err := db.QueryRow(`SELECT device_id FROM sync_client_info WHERE id = 1`).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		deviceID = uuid.New().String()
		_, err = db.Exec(`
			INSERT INTO sync_client_info (id, device_id, apply_mode)
			VALUES (1, ?, 0)`, deviceID)
		if err != nil {
			return "", fmt.Errorf("failed to insert client info: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to query client info: %w", err)
	}
	return deviceID, nil
}

// getMeta reads a sync_meta value, empty string when unset.
func (c *Client) getMeta(key string) (string, error) {
	var value string
	err := c.DB.QueryRow(`SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("read meta "+key, err)
	}
	return value, nil
}

func (c *Client) setMeta(key, value string) error {
	_, err := c.DB.Exec(`
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return storageErr("write meta "+key, err)
	}
	return nil
}

// ServerURL returns the currently configured server base URL.
func (c *Client) ServerURL() (string, error) {
	return c.getMeta(metaServerURL)
}

// LastSyncTimestamp returns the current watermark, 0 when never synced.
func (c *Client) LastSyncTimestamp() (int64, error) {
	raw, err := c.getMeta(metaLastSyncTimestamp)
	if err != nil || raw == "" {
		return 0, err
	}
	var ts int64
	if _, err := fmt.Sscanf(raw, "%d", &ts); err != nil {
		return 0, storageErr("parse last_sync_timestamp", err)
	}
	return ts, nil
}

// Sync runs one full sync session. See StateManager.RequestSync for the
// concurrency contract.
func (c *Client) Sync(ctx context.Context) (*SyncResult, error) {
	return c.state.RequestSync(ctx)
}

// Status reports the engine's current externally visible state.
func (c *Client) Status(ctx context.Context) (*SyncStatus, error) {
	return c.state.Status(ctx)
}

// SetServerURL validates and persists a new server base URL.
func (c *Client) SetServerURL(rawURL string) error {
	return c.state.SetServerURL(rawURL)
}

// Start launches the periodic background sync loop. It returns immediately;
// cancel the context to stop the loop.
func (c *Client) Start(ctx context.Context) {
	c.state.Run(ctx, c.config.SyncInterval)
}

// Subscribe registers a status listener. See StateManager.Subscribe.
func (c *Client) Subscribe() (<-chan SyncStatus, func()) {
	return c.state.Subscribe()
}
