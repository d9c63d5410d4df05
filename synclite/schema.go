// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// tableSpec describes one synced table. Columns lists the payload columns in
// declaration order and must match the CREATE TABLE statement below; the
// journal triggers and the generic store both render from this list.
type tableSpec struct {
	Name    string
	Columns []string
}

var syncedTables = []tableSpec{
	{"companies", []string{
		"id", "name", "website", "address", "city", "postal_code", "country",
		"description", "created_at", "updated_at",
	}},
	{"company_contacts", []string{
		"id", "company_id", "first_name", "last_name", "email", "phone_number",
		"is_primary", "created_at", "updated_at",
	}},
	{"customers", []string{
		"id", "name", "email", "phone", "address", "notes", "created_at", "updated_at",
	}},
	{"proposals", []string{
		"id", "company_id", "proposal_number", "status", "total_amount", "currency",
		"valid_until", "notes", "created_at", "updated_at",
	}},
	{"proposal_products", []string{
		"id", "proposal_id", "product_type", "user_count", "standalone_count",
		"server_key_count", "unit_price", "total_price", "annual_reduction",
		"training", "training_days", "training_cost_per_day", "training_cost",
		"licence", "support", "support_years", "created_at", "updated_at",
	}},
	{"invoices", []string{
		"id", "proposal_id", "invoice_number", "status", "total_amount", "currency",
		"issue_date", "due_date", "paid_date", "purchase_order", "purchase_order_date",
		"commercial_in_charge", "notes", "created_at", "updated_at",
	}},
	{"documents", []string{
		"id", "customer_id", "title", "document_type", "file_path", "content",
		"created_at", "updated_at",
	}},
}

// tableSpecByName returns the spec for a synced table, nil when unknown.
func tableSpecByName(name string) *tableSpec {
	for i := range syncedTables {
		if syncedTables[i].Name == name {
			return &syncedTables[i]
		}
	}
	return nil
}

// Entity tables. Every synced table carries the same bookkeeping tail:
// updated_at is the last-write-wins axis in unix millis, version counts
// local edits, is_deleted marks tombstones and sync_status tracks the
// record's relation to the server.
var entityTables = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id           TEXT PRIMARY KEY,
		name         TEXT UNIQUE NOT NULL,
		website      TEXT,
		address      TEXT,
		city         TEXT,
		postal_code  TEXT,
		country      TEXT,
		description  TEXT,
		created_at   TEXT NOT NULL,
		updated_at   INTEGER NOT NULL,
		version      INTEGER NOT NULL DEFAULT 1,
		is_deleted   INTEGER NOT NULL DEFAULT 0,
		server_id    TEXT,
		sync_status  TEXT NOT NULL DEFAULT 'pending'
	)`,

	`CREATE TABLE IF NOT EXISTS company_contacts (
		id           TEXT PRIMARY KEY,
		company_id   TEXT NOT NULL,
		first_name   TEXT NOT NULL,
		last_name    TEXT NOT NULL,
		email        TEXT NOT NULL,
		phone_number TEXT,
		is_primary   INTEGER DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   INTEGER NOT NULL,
		version      INTEGER NOT NULL DEFAULT 1,
		is_deleted   INTEGER NOT NULL DEFAULT 0,
		server_id    TEXT,
		sync_status  TEXT NOT NULL DEFAULT 'pending',
		FOREIGN KEY (company_id) REFERENCES companies(id)
	)`,

	`CREATE TABLE IF NOT EXISTS customers (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		email        TEXT,
		phone        TEXT,
		address      TEXT,
		notes        TEXT,
		created_at   TEXT NOT NULL,
		updated_at   INTEGER NOT NULL,
		version      INTEGER NOT NULL DEFAULT 1,
		is_deleted   INTEGER NOT NULL DEFAULT 0,
		server_id    TEXT,
		sync_status  TEXT NOT NULL DEFAULT 'pending'
	)`,

	`CREATE TABLE IF NOT EXISTS proposals (
		id              TEXT PRIMARY KEY,
		company_id      TEXT NOT NULL,
		proposal_number TEXT UNIQUE,
		status          TEXT NOT NULL DEFAULT 'DRAFT',
		total_amount    REAL,
		currency        TEXT DEFAULT 'USD',
		valid_until     TEXT,
		notes           TEXT,
		created_at      TEXT NOT NULL,
		updated_at      INTEGER NOT NULL,
		version         INTEGER NOT NULL DEFAULT 1,
		is_deleted      INTEGER NOT NULL DEFAULT 0,
		server_id       TEXT,
		sync_status     TEXT NOT NULL DEFAULT 'pending',
		FOREIGN KEY (company_id) REFERENCES companies(id)
	)`,

	`CREATE TABLE IF NOT EXISTS proposal_products (
		id                    TEXT PRIMARY KEY,
		proposal_id           TEXT NOT NULL,
		product_type          TEXT NOT NULL,
		user_count            INTEGER NOT NULL,
		standalone_count      INTEGER DEFAULT 0,
		server_key_count      INTEGER DEFAULT 0,
		unit_price            REAL,
		total_price           REAL,
		annual_reduction      REAL DEFAULT 0,
		training              INTEGER DEFAULT 0,
		training_days         INTEGER DEFAULT 0,
		training_cost_per_day REAL DEFAULT 0,
		training_cost         REAL DEFAULT 0,
		licence               INTEGER DEFAULT 0,
		support               INTEGER DEFAULT 0,
		support_years         INTEGER DEFAULT 0,
		created_at            TEXT NOT NULL,
		updated_at            INTEGER NOT NULL,
		version               INTEGER NOT NULL DEFAULT 1,
		is_deleted            INTEGER NOT NULL DEFAULT 0,
		server_id             TEXT,
		sync_status           TEXT NOT NULL DEFAULT 'pending',
		FOREIGN KEY (proposal_id) REFERENCES proposals(id)
	)`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id                   TEXT PRIMARY KEY,
		proposal_id          TEXT NOT NULL,
		invoice_number       TEXT UNIQUE NOT NULL,
		status               TEXT NOT NULL DEFAULT 'DRAFT',
		total_amount         REAL NOT NULL DEFAULT 0.0,
		currency             TEXT NOT NULL DEFAULT 'USD',
		issue_date           TEXT NOT NULL,
		due_date             TEXT,
		paid_date            TEXT,
		purchase_order       TEXT,
		purchase_order_date  TEXT,
		commercial_in_charge TEXT,
		notes                TEXT,
		created_at           TEXT NOT NULL,
		updated_at           INTEGER NOT NULL,
		version              INTEGER NOT NULL DEFAULT 1,
		is_deleted           INTEGER NOT NULL DEFAULT 0,
		server_id            TEXT,
		sync_status          TEXT NOT NULL DEFAULT 'pending',
		FOREIGN KEY (proposal_id) REFERENCES proposals(id)
	)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id            TEXT PRIMARY KEY,
		customer_id   TEXT NOT NULL,
		title         TEXT NOT NULL,
		document_type TEXT NOT NULL,
		file_path     TEXT,
		content       TEXT,
		created_at    TEXT NOT NULL,
		updated_at    INTEGER NOT NULL,
		version       INTEGER NOT NULL DEFAULT 1,
		is_deleted    INTEGER NOT NULL DEFAULT 0,
		server_id     TEXT,
		sync_status   TEXT NOT NULL DEFAULT 'pending',
		FOREIGN KEY (customer_id) REFERENCES customers(id)
	)`,

	// Local reference data, never synced
	`CREATE TABLE IF NOT EXISTS licence_pricing (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		product_type TEXT NOT NULL,
		user_count   INTEGER NOT NULL,
		price_usd    REAL NOT NULL,
		UNIQUE(product_type, user_count)
	)`,
}

// Sync bookkeeping tables.
var syncTables = []string{
	// Append-only change journal fed by the table triggers. One row per
	// local change; coalescing to one entry per record happens at
	// snapshot time, not at capture time.
	`CREATE TABLE IF NOT EXISTS sync_journal (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		record_id   TEXT NOT NULL,
		op          TEXT NOT NULL CHECK (op IN ('INSERT','UPDATE','DELETE')),
		payload     TEXT,
		local_ts    INTEGER NOT NULL,
		acked       INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_journal_unacked ON sync_journal(acked, seq)`,

	// Engine metadata as a key/value table (last_sync_timestamp, server_url)
	`CREATE TABLE IF NOT EXISTS sync_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	// Device identity plus the trigger suppression flag. One row per DB
	// file; apply_mode=1 while server changes are being applied so the
	// triggers do not journal them back.
	`CREATE TABLE IF NOT EXISTS sync_client_info (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		device_id  TEXT NOT NULL,
		apply_mode INTEGER NOT NULL DEFAULT 0
	)`,
}

var syncIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_companies_updated_at ON companies(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_company_contacts_updated_at ON company_contacts(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_updated_at ON customers(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_proposals_updated_at ON proposals(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_proposal_products_updated_at ON proposal_products(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_updated_at ON invoices(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at)`,
}

// initializeDatabase creates all tables and resets the trigger suppression
// flag in case the app crashed mid-apply.
func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	for _, group := range [][]string{entityTables, syncTables, syncIndexes} {
		for _, stmt := range group {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to create schema object: %w", err)
			}
		}
	}

	if err := seedLicencePricing(db); err != nil {
		return fmt.Errorf("failed to seed licence pricing: %w", err)
	}

	// A crash while apply_mode=1 would leave the triggers permanently
	// suppressed, so clear it on every startup.
	if _, err := db.Exec(`UPDATE sync_client_info SET apply_mode = 0 WHERE apply_mode = 1`); err != nil {
		return fmt.Errorf("failed to reset apply_mode: %w", err)
	}

	return nil
}
