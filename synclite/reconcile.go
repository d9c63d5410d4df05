// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alexzeb78/taury-crm/syncserver"
)

// runSession executes one push-then-pull sync session.
//
// The session takes a frozen journal snapshot, exchanges it with the server
// and then commits all local effects in a single transaction: push statuses,
// pulled remote changes, journal acknowledgement and the new watermark. A
// transport failure at any point aborts before that transaction, so a failed
// session leaves the local database exactly as it was.
func (c *Client) runSession(ctx context.Context) (*SyncResult, error) {
	baseURL, err := c.ServerURL()
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		return &SyncResult{Success: false, Message: "server URL not configured"}, nil
	}

	watermark, err := c.LastSyncTimestamp()
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	snap, err := c.snapshotPushBatch(ctx)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	// Push before pull so the server resolves conflicts and the pull
	// window already reflects this session's own writes.
	var pushResp *syncserver.PushResponse
	if len(snap.Items) > 0 {
		pushResp, err = c.transport.Push(ctx, baseURL, &syncserver.PushRequest{
			LastSyncTimestamp: watermark,
			Changes:           snap.Items,
		})
		if err != nil {
			return c.transportFailure("push", err)
		}
	}

	pullResp, err := c.transport.Pull(ctx, baseURL, watermark)
	if err != nil {
		return c.transportFailure("pull", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.commitSession(ctx, snap, pushResp, pullResp)
}

// transportFailure turns a transport error into a failed result. Journaled
// changes are untouched and stay pending for the next session.
func (c *Client) transportFailure(op string, err error) (*SyncResult, error) {
	var terr *TransportError
	if !errors.As(err, &terr) {
		return nil, err
	}
	c.logger.Warn("sync aborted", "op", op, "error", terr)
	return &SyncResult{
		Success: false,
		Message: fmt.Sprintf("%s failed: server unreachable or rejected the request", op),
		Errors:  []string{terr.Error()},
	}, nil
}

// commitSession applies all session effects in one local transaction.
func (c *Client) commitSession(ctx context.Context, snap *pushSnapshot, pushResp *syncserver.PushResponse, pullResp *syncserver.PullResponse) (*SyncResult, error) {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin session tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
			// Rollback restores apply_mode, but clear it again in case
			// the row was committed by an earlier schema migration path.
			_, _ = c.DB.ExecContext(ctx, `UPDATE sync_client_info SET apply_mode = 0 WHERE id = 1`)
		}
	}()

	// Suppress the journal triggers while server state is written back
	if _, err := tx.ExecContext(ctx, `UPDATE sync_client_info SET apply_mode = 1 WHERE id = 1`); err != nil {
		return nil, storageErr("set apply_mode", err)
	}

	result := &SyncResult{Success: true}

	if pushResp != nil {
		if err := c.applyPushStatuses(ctx, tx, snap, pushResp, result); err != nil {
			return nil, err
		}
	}

	for i := range pullResp.Changes {
		ch := &pullResp.Changes[i]
		if ch.SourceID == c.DeviceID {
			continue
		}
		applied, err := c.applyRemoteChangeInTx(ctx, tx, ch)
		if err != nil {
			return nil, err
		}
		if applied {
			result.ItemsSynced++
		}
	}

	var ackSeqs []int64
	for _, seqs := range snap.Seqs {
		ackSeqs = append(ackSeqs, seqs...)
	}
	if err := acknowledgeEntries(ctx, tx, ackSeqs); err != nil {
		return nil, err
	}

	// The server's clock is the watermark; comparing a local clock against
	// server apply times would reintroduce clock skew.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastSyncTimestamp, strconv.FormatInt(pullResp.ServerTimestamp, 10)); err != nil {
		return nil, storageErr("advance watermark", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sync_client_info SET apply_mode = 0 WHERE id = 1`); err != nil {
		return nil, storageErr("reset apply_mode", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit session tx", err)
	}
	committed = true

	result.NewTimestamp = pullResp.ServerTimestamp
	if len(result.Errors) > 0 {
		result.Message = fmt.Sprintf("sync completed with %d rejected record(s)", len(result.Errors))
	} else {
		result.Message = "sync completed"
	}
	c.logger.Info("sync session committed",
		"items", result.ItemsSynced, "conflicts", result.Conflicts,
		"rejected", len(result.Errors), "watermark", result.NewTimestamp)
	return result, nil
}

// applyPushStatuses folds the server's per-record verdicts back into the
// local rows.
func (c *Client) applyPushStatuses(ctx context.Context, tx *sql.Tx, snap *pushSnapshot, pushResp *syncserver.PushResponse, result *SyncResult) error {
	pushedAt := make(map[string]int64, len(snap.Items))
	for i := range snap.Items {
		item := &snap.Items[i]
		pushedAt[recordKey(item.TableName, item.RecordID)] = item.UpdatedAt
	}

	for i := range pushResp.Statuses {
		st := &pushResp.Statuses[i]
		spec := tableSpecByName(st.TableName)
		if spec == nil {
			continue
		}

		switch st.Status {
		case syncserver.StApplied:
			if err := c.markSynced(ctx, tx, spec, st, pushedAt[recordKey(st.TableName, st.RecordID)]); err != nil {
				return err
			}
			result.ItemsSynced++

		case syncserver.StConflict:
			// Server copy won; adopt it locally. The local edit is gone,
			// which the result surfaces as a resolved conflict, not an error.
			var row syncserver.RecordPull
			if len(st.ServerRow) > 0 {
				if err := json.Unmarshal(st.ServerRow, &row); err != nil {
					return storageErr("decode conflict row", err)
				}
				if _, err := c.applyRemoteChangeInTx(ctx, tx, &row); err != nil {
					return err
				}
			}
			result.Conflicts++
			c.logger.Info("conflict resolved in favor of server",
				"table", st.TableName, "record", st.RecordID)

		case syncserver.StInvalid:
			// Non-recoverable rejection: park the record in the error
			// state so it stops being retried until the user edits it.
			_, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE "%s" SET sync_status = ? WHERE id = ?`, spec.Name),
				RowError, st.RecordID)
			if err != nil {
				return storageErr("mark error "+st.TableName, err)
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s/%s: %s", st.TableName, st.RecordID, st.Message))
			c.logger.Warn("record rejected by server",
				"table", st.TableName, "record", st.RecordID, "reason", st.Reason)
		}
	}
	return nil
}

// markSynced finalizes a locally pushed record after the server applied it.
// Tombstones are purged; live rows get the server id and the synced flag,
// but only if the row was not edited again after the snapshot.
func (c *Client) markSynced(ctx context.Context, tx *sql.Tx, spec *tableSpec, st *syncserver.RecordPushStatus, pushedUpdatedAt int64) error {
	var deleted bool
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT is_deleted FROM "%s" WHERE id = ?`, spec.Name), st.RecordID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return storageErr("load pushed "+spec.Name, err)
	}

	if deleted {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM "%s" WHERE id = ? AND updated_at = ?`, spec.Name),
			st.RecordID, pushedUpdatedAt)
	} else {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE "%s" SET server_id = ?, sync_status = ? WHERE id = ? AND updated_at = ?`, spec.Name),
			st.ServerID, RowSynced, st.RecordID, pushedUpdatedAt)
	}
	if err != nil {
		return storageErr("mark synced "+spec.Name, err)
	}
	return nil
}

// applyRemoteChangeInTx writes one remote change into the local table.
// Last-write-wins: the change is skipped when the local row carries an equal
// or newer timestamp.
func (c *Client) applyRemoteChangeInTx(ctx context.Context, tx *sql.Tx, ch *syncserver.RecordPull) (bool, error) {
	spec := tableSpecByName(ch.TableName)
	if spec == nil {
		c.logger.Warn("pull for unknown table skipped", "table", ch.TableName)
		return false, nil
	}

	var localUpdatedAt int64
	exists := true
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT updated_at FROM "%s" WHERE id = ?`, spec.Name), ch.RecordID).Scan(&localUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return false, storageErr("load local "+spec.Name, err)
	}
	if exists && localUpdatedAt >= ch.UpdatedAt {
		return false, nil
	}

	if ch.Deleted {
		if !exists {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM "%s" WHERE id = ?`, spec.Name), ch.RecordID); err != nil {
			return false, storageErr("apply remote delete "+spec.Name, err)
		}
		return true, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(ch.Data, &payload); err != nil {
		return false, storageErr("decode remote "+spec.Name, err)
	}

	cols := make([]string, 0, len(spec.Columns)+4)
	placeholders := make([]string, 0, cap(cols))
	args := make([]any, 0, cap(cols))
	for _, col := range spec.Columns {
		cols = append(cols, `"`+col+`"`)
		placeholders = append(placeholders, "?")
		switch col {
		case "id":
			args = append(args, ch.RecordID)
		case "updated_at":
			args = append(args, ch.UpdatedAt)
		default:
			args = append(args, payload[col])
		}
	}
	for _, pair := range []struct {
		col string
		val any
	}{
		{"version", ch.Version},
		{"is_deleted", false},
		{"server_id", ch.ServerID},
		{"sync_status", RowSynced},
	} {
		cols = append(cols, pair.col)
		placeholders = append(placeholders, "?")
		args = append(args, pair.val)
	}

	var sets []string
	for _, col := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		spec.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, storageErr("apply remote "+spec.Name, err)
	}
	return true, nil
}
