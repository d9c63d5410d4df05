// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

// Operation constants for record changes
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Status constants for per-record push results
const (
	StApplied  = "applied"
	StConflict = "conflict"
	StInvalid  = "invalid"
)

// Invalid reason constants
const (
	ReasonBadPayload        = "bad_payload"
	ReasonUnregisteredTable = "unregistered_table"
	ReasonMissingPayload    = "missing_payload"
	ReasonInternalError     = "internal_error"
)

// SyncedTables lists the CRM entity tables that participate in synchronization.
// The client keeps the same set; pricing and auth tables are local-only.
var SyncedTables = []string{
	"companies",
	"company_contacts",
	"customers",
	"proposals",
	"proposal_products",
	"invoices",
	"documents",
}

// IsSyncedTable reports whether the given table participates in sync.
func IsSyncedTable(table string) bool {
	for _, t := range SyncedTables {
		if t == table {
			return true
		}
	}
	return false
}
