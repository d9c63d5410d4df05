// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

// Per-record sync status values kept in the sync_status column.
const (
	RowSynced  = "synced"  // Local state matches the server
	RowPending = "pending" // Local change not yet acknowledged
	RowError   = "error"   // Server rejected the change as invalid
)

// Record is the generic envelope for one row of a synced table. Domain
// columns live in Fields, the sync bookkeeping columns are lifted out so
// the engine never needs per-table structs.
type Record struct {
	Table      string
	ID         string
	Fields     map[string]any // Domain columns only
	UpdatedAt  int64          // Logical timestamp, unix millis
	Version    int64
	Deleted    bool
	ServerID   string // Empty until first successful push
	SyncStatus string
}

// SyncResult summarizes one sync session for the UI layer.
type SyncResult struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	ItemsSynced  int      `json:"items_synced"`  // Pushed applied + pulled applied
	Conflicts    int      `json:"conflicts"`     // Records where the server copy won
	NewTimestamp int64    `json:"new_timestamp"` // Watermark after the session, 0 on failure
	Errors       []string `json:"errors,omitempty"`
}

// SyncStatus is the engine's externally visible state snapshot.
type SyncStatus struct {
	IsOnline       bool   `json:"is_online"`
	IsSyncing      bool   `json:"is_syncing"`
	LastSync       int64  `json:"last_sync"` // Watermark, unix millis, 0 = never synced
	PendingChanges int    `json:"pending_changes"`
	ServerURL      string `json:"server_url"`
}
