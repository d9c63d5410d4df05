// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The store is the only write path for synced tables. Every write stamps the
// row with a monotonic updated_at, bumps version and marks the row pending;
// the journal triggers take care of the rest.

// Get returns one live record. ErrNotFound covers both a missing row and a
// tombstone.
func (c *Client) Get(ctx context.Context, table, id string) (*Record, error) {
	spec := tableSpecByName(table)
	if spec == nil {
		return nil, storageErr("get", fmt.Errorf("unknown table %q", table))
	}

	rec, err := c.loadRecord(ctx, spec, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns all live records of a table, most recently updated first.
func (c *Client) List(ctx context.Context, table string) ([]*Record, error) {
	spec := tableSpecByName(table)
	if spec == nil {
		return nil, storageErr("list", fmt.Errorf("unknown table %q", table))
	}

	query := fmt.Sprintf(`SELECT %s FROM "%s" WHERE is_deleted = 0 ORDER BY updated_at DESC`,
		selectColumns(spec), spec.Name)
	rows, err := c.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list "+table, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(spec, rows)
		if err != nil {
			return nil, storageErr("list "+table, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list "+table, err)
	}
	return records, nil
}

// Upsert creates or replaces a record with the given domain fields. An empty
// id creates a new record. The full new state is written, there is no
// per-column merge.
func (c *Client) Upsert(ctx context.Context, table, id string, fields map[string]any) (*Record, error) {
	spec := tableSpecByName(table)
	if spec == nil {
		return nil, storageErr("upsert", fmt.Errorf("unknown table %q", table))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}

	existing, err := c.loadRecord(ctx, spec, id)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Table:      table,
		ID:         id,
		Fields:     make(map[string]any, len(fields)),
		UpdatedAt:  monotonicNow(existing),
		Version:    1,
		SyncStatus: RowPending,
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	if existing != nil {
		rec.Version = existing.Version + 1
		rec.ServerID = existing.ServerID
		// created_at is immutable after the first write
		if v, ok := existing.Fields["created_at"]; ok && v != nil {
			rec.Fields["created_at"] = v
		}
	}
	if rec.Fields["created_at"] == nil {
		rec.Fields["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}

	if err := c.writeRecord(ctx, spec, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete tombstones a record. The row stays in place flagged is_deleted so
// the deletion can propagate; it is purged once the server confirms it.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	spec := tableSpecByName(table)
	if spec == nil {
		return storageErr("delete", fmt.Errorf("unknown table %q", table))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	existing, err := c.loadRecord(ctx, spec, id)
	if err != nil {
		return err
	}
	if existing == nil || existing.Deleted {
		return ErrNotFound
	}

	_, err = c.DB.ExecContext(ctx, fmt.Sprintf(`
		UPDATE "%s" SET is_deleted = 1, updated_at = ?, version = ?, sync_status = ?
		WHERE id = ?`, spec.Name),
		monotonicNow(existing), existing.Version+1, RowPending, id)
	if err != nil {
		return storageErr("delete "+table, err)
	}
	return nil
}

// monotonicNow returns the current unix-milli clock, nudged forward when the
// record was already stamped at or past it. Keeps updated_at strictly
// increasing per record even under clock jumps.
func monotonicNow(existing *Record) int64 {
	now := time.Now().UnixMilli()
	if existing != nil && existing.UpdatedAt >= now {
		return existing.UpdatedAt + 1
	}
	return now
}

// selectColumns renders the SELECT list: payload columns followed by the
// bookkeeping tail.
func selectColumns(spec *tableSpec) string {
	cols := make([]string, 0, len(spec.Columns)+4)
	for _, col := range spec.Columns {
		cols = append(cols, `"`+col+`"`)
	}
	cols = append(cols, "version", "is_deleted", "server_id", "sync_status")
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans one row into the generic envelope.
func scanRecord(spec *tableSpec, row rowScanner) (*Record, error) {
	values := make([]any, len(spec.Columns))
	ptrs := make([]any, 0, len(spec.Columns)+4)
	for i := range values {
		ptrs = append(ptrs, &values[i])
	}

	var version int64
	var deleted bool
	var serverID sql.NullString
	var syncStatus string
	ptrs = append(ptrs, &version, &deleted, &serverID, &syncStatus)

	if err := row.Scan(ptrs...); err != nil {
		return nil, err
	}

	rec := &Record{
		Table:      spec.Name,
		Fields:     make(map[string]any, len(spec.Columns)),
		Version:    version,
		Deleted:    deleted,
		ServerID:   serverID.String,
		SyncStatus: syncStatus,
	}
	for i, col := range spec.Columns {
		val := values[i]
		if b, ok := val.([]byte); ok {
			val = string(b)
		}
		switch col {
		case "id":
			rec.ID, _ = val.(string)
		case "updated_at":
			switch v := val.(type) {
			case int64:
				rec.UpdatedAt = v
			case float64:
				rec.UpdatedAt = int64(v)
			}
		default:
			rec.Fields[col] = val
		}
	}
	return rec, nil
}

// loadRecord fetches one row regardless of tombstone state, nil when absent.
func (c *Client) loadRecord(ctx context.Context, spec *tableSpec, id string) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM "%s" WHERE id = ?`, selectColumns(spec), spec.Name)
	rec, err := scanRecord(spec, c.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load "+spec.Name, err)
	}
	return rec, nil
}

// writeRecord upserts the full row state. Runs outside apply mode so the
// journal triggers fire.
func (c *Client) writeRecord(ctx context.Context, spec *tableSpec, rec *Record) error {
	cols := make([]string, 0, len(spec.Columns)+4)
	placeholders := make([]string, 0, cap(cols))
	args := make([]any, 0, cap(cols))

	for _, col := range spec.Columns {
		cols = append(cols, `"`+col+`"`)
		placeholders = append(placeholders, "?")
		switch col {
		case "id":
			args = append(args, rec.ID)
		case "updated_at":
			args = append(args, rec.UpdatedAt)
		default:
			args = append(args, rec.Fields[col])
		}
	}
	for _, pair := range []struct {
		col string
		val any
	}{
		{"version", rec.Version},
		{"is_deleted", rec.Deleted},
		{"server_id", nullableString(rec.ServerID)},
		{"sync_status", rec.SyncStatus},
	} {
		cols = append(cols, pair.col)
		placeholders = append(placeholders, "?")
		args = append(args, pair.val)
	}

	var sets []string
	for _, col := range cols[1:] { // skip id
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		spec.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
	if _, err := c.DB.ExecContext(ctx, query, args...); err != nil {
		return storageErr("upsert "+spec.Name, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
