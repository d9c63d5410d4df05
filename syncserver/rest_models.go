// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"encoding/json"
)

// REST/JSON models for the push/pull HTTP API. The desktop client and the
// server share these types so the wire format cannot drift between the two.

// PushRequest is a batch of full record snapshots uploaded by one device.
// The device identity comes from the JWT did claim, not from the body.
type PushRequest struct {
	LastSyncTimestamp int64        `json:"last_sync_timestamp"` // Client watermark, unix millis
	Changes           []RecordPush `json:"changes"`
}

// RecordPush is a single record snapshot in a push batch. The payload is the
// full row state at journal-snapshot time, never a partial diff.
type RecordPush struct {
	TableName string          `json:"table_name"`
	RecordID  string          `json:"id"`                  // Client-generated id, stable across sync
	Op        string          `json:"op"`                  // INSERT, UPDATE, DELETE
	Data      json.RawMessage `json:"data,omitempty"`      // Full row JSON (null for DELETE)
	ServerID  string          `json:"server_id,omitempty"` // Empty on first push
	Version   int64           `json:"version"`
	UpdatedAt int64           `json:"updated_at"` // Logical timestamp, unix millis
}

// PushResponse reports per-record outcomes plus the authoritative server clock.
type PushResponse struct {
	Success         bool               `json:"success"`
	ServerTimestamp int64              `json:"server_timestamp"` // Server clock, unix millis
	Statuses        []RecordPushStatus `json:"statuses"`
}

// RecordPushStatus is the outcome of one pushed record.
type RecordPushStatus struct {
	TableName string          `json:"table_name"`
	RecordID  string          `json:"id"`
	Status    string          `json:"status"`               // applied, conflict, invalid
	ServerID  string          `json:"server_id,omitempty"`  // Assigned on first applied push
	ServerRow json.RawMessage `json:"server_row,omitempty"` // Current server state on conflict
	Reason    string          `json:"reason,omitempty"`     // Set when status is invalid
	Message   string          `json:"message,omitempty"`
}

// PullResponse returns every record changed on the server after `since`,
// bounded by ServerTimestamp so a session sees a consistent window.
type PullResponse struct {
	Changes         []RecordPull `json:"changes"`
	ServerTimestamp int64        `json:"server_timestamp"`
}

// RecordPull is a single remote change in a pull response.
type RecordPull struct {
	TableName string          `json:"table_name"`
	RecordID  string          `json:"id"`
	Data      json.RawMessage `json:"data,omitempty"` // Null for tombstones
	ServerID  string          `json:"server_id"`
	Version   int64           `json:"version"`
	Deleted   bool            `json:"is_deleted"`
	UpdatedAt int64           `json:"updated_at"`
	SourceID  string          `json:"source_id"` // Originating device, for self-filtering
}

// ErrorResponse is the JSON body for non-200 replies.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	AppName string `json:"app_name"`
}
