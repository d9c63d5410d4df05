// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alexzeb78/taury-crm/syncserver"
)

// journalEntry is one captured local change.
type journalEntry struct {
	Seq      int64
	Table    string
	RecordID string
	Op       string
	LocalTS  int64
}

// recordKey identifies one record across journal entries.
func recordKey(table, id string) string { return table + "|" + id }

// pushSnapshot is the frozen view of the journal taken at the start of a
// sync session: one push item per touched record plus the journal seqs that
// the item covers. Entries journaled after the snapshot keep their seqs and
// survive the session's acknowledgement.
type pushSnapshot struct {
	Items []syncserver.RecordPush
	Seqs  map[string][]int64 // recordKey -> journal seqs covered
}

// snapshotPushBatch coalesces all unacknowledged journal entries down to one
// push item per record, built from the record's current state. Intermediate
// states are never pushed; the server only needs the latest snapshot.
func (c *Client) snapshotPushBatch(ctx context.Context) (*pushSnapshot, error) {
	rows, err := c.DB.QueryContext(ctx, `
		SELECT seq, entity_type, record_id, op, local_ts
		FROM sync_journal
		WHERE acked = 0
		ORDER BY seq`)
	if err != nil {
		return nil, storageErr("read journal", err)
	}
	defer rows.Close()

	snap := &pushSnapshot{Seqs: make(map[string][]int64)}
	var order []string // first-touch order, keeps parents before children
	latest := make(map[string]journalEntry)
	for rows.Next() {
		var e journalEntry
		if err := rows.Scan(&e.Seq, &e.Table, &e.RecordID, &e.Op, &e.LocalTS); err != nil {
			return nil, storageErr("scan journal", err)
		}
		key := recordKey(e.Table, e.RecordID)
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = e
		snap.Seqs[key] = append(snap.Seqs[key], e.Seq)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read journal", err)
	}

	for _, key := range order {
		entry := latest[key]
		item, err := c.buildPushItem(ctx, entry)
		if err != nil {
			return nil, err
		}
		if item == nil {
			// Row vanished without a tombstone; nothing to push, but the
			// entries still get acknowledged so they don't pile up.
			continue
		}
		snap.Items = append(snap.Items, *item)
	}
	return snap, nil
}

// buildPushItem renders one push item from the record's current row state.
func (c *Client) buildPushItem(ctx context.Context, entry journalEntry) (*syncserver.RecordPush, error) {
	spec := tableSpecByName(entry.Table)
	if spec == nil {
		return nil, storageErr("journal", fmt.Errorf("unknown table %q", entry.Table))
	}

	rec, err := c.loadRecord(ctx, spec, entry.RecordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if entry.Op == syncserver.OpDelete {
			// Row already purged locally, replay the delete from the journal
			return &syncserver.RecordPush{
				TableName: entry.Table,
				RecordID:  entry.RecordID,
				Op:        syncserver.OpDelete,
				UpdatedAt: entry.LocalTS,
			}, nil
		}
		return nil, nil
	}

	item := &syncserver.RecordPush{
		TableName: entry.Table,
		RecordID:  rec.ID,
		ServerID:  rec.ServerID,
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
	}

	switch {
	case rec.Deleted:
		item.Op = syncserver.OpDelete
	case rec.ServerID == "":
		item.Op = syncserver.OpInsert
	default:
		item.Op = syncserver.OpUpdate
	}

	if !rec.Deleted {
		payload := make(map[string]any, len(rec.Fields)+2)
		for k, v := range rec.Fields {
			payload[k] = v
		}
		payload["id"] = rec.ID
		payload["updated_at"] = rec.UpdatedAt
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, storageErr("marshal "+entry.Table, err)
		}
		item.Data = data
	}
	return item, nil
}

// acknowledgeEntries marks the snapshot's journal seqs handled and prunes
// them. Runs inside the session commit transaction.
func acknowledgeEntries(ctx context.Context, tx *sql.Tx, seqs []int64) error {
	for _, seq := range seqs {
		if _, err := tx.ExecContext(ctx, `UPDATE sync_journal SET acked = 1 WHERE seq = ?`, seq); err != nil {
			return storageErr("ack journal", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_journal WHERE acked = 1`); err != nil {
		return storageErr("prune journal", err)
	}
	return nil
}

// PendingChangeCount returns the number of distinct records with
// unsynchronized local changes.
func (c *Client) PendingChangeCount(ctx context.Context) (int, error) {
	var count int
	err := c.DB.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT entity_type || '|' || record_id)
		FROM sync_journal WHERE acked = 0`).Scan(&count)
	if err != nil {
		return 0, storageErr("count pending", err)
	}
	return count, nil
}
