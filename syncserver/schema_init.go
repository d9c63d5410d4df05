// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchema creates the sync storage if it doesn't exist.
func (s *SyncService) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
}

// initializeSchemaInTx creates the sync storage within an existing transaction.
func (s *SyncService) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		// Dedicated schema so the sync state never collides with app tables
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS crm_sync`,

		// Authoritative record store, one row per (table, record). Full
		// snapshots only, so last-write-wins needs no per-column merge.
		// updated_at is the client's logical timestamp (the LWW axis);
		// applied_at is the server clock and drives the pull window.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS crm_sync.records (
			table_name   TEXT    NOT NULL,
			record_id    TEXT    NOT NULL,
			user_id      TEXT    NOT NULL,
			server_id    UUID    NOT NULL,
			payload      JSONB,
			version      BIGINT  NOT NULL DEFAULT 0,
			is_deleted   BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at   BIGINT  NOT NULL,
			applied_at   BIGINT  NOT NULL,
			source_id    TEXT    NOT NULL,
			PRIMARY KEY (user_id, table_name, record_id),
			CONSTRAINT records_payload_by_state_chk
			CHECK ((is_deleted AND payload IS NULL) OR (NOT is_deleted AND payload IS NOT NULL))
		)`,

		// Pull queries scan by user and server apply time
		`CREATE INDEX IF NOT EXISTS records_user_applied_idx ON crm_sync.records(user_id, applied_at)`,
	}

	for i, migration := range migrations {
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
