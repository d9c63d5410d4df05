package synclite

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alexzeb78/taury-crm/syncserver"
	"github.com/stretchr/testify/require"
)

func TestTriggersCaptureInsert(t *testing.T) {
	client := newTestClient(t, "")
	ctx := context.Background()

	rec, err := client.Upsert(ctx, "customers", "", map[string]any{"name": "Journaled"})
	require.NoError(t, err)

	var op string
	var payload string
	require.NoError(t, client.DB.QueryRow(`
		SELECT op, payload FROM sync_journal
		WHERE entity_type = 'customers' AND record_id = ?`, rec.ID).Scan(&op, &payload))
	require.Equal(t, "INSERT", op)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &fields))
	require.Equal(t, "Journaled", fields["name"])
	require.Equal(t, rec.ID, fields["id"])
}

func TestTriggersCaptureDeleteWithoutPayload(t *testing.T) {
	client := newTestClient(t, "")
	ctx := context.Background()

	rec, err := client.Upsert(ctx, "customers", "", map[string]any{"name": "bye"})
	require.NoError(t, err)
	require.NoError(t, client.Delete(ctx, "customers", rec.ID))

	var op string
	var payload any
	require.NoError(t, client.DB.QueryRow(`
		SELECT op, payload FROM sync_journal
		WHERE entity_type = 'customers' AND record_id = ? ORDER BY seq DESC LIMIT 1`,
		rec.ID).Scan(&op, &payload))
	require.Equal(t, "DELETE", op)
	require.Nil(t, payload)
}

func TestSnapshotCoalescesPerRecord(t *testing.T) {
	client := newTestClient(t, "")
	ctx := context.Background()

	rec, err := client.Upsert(ctx, "customers", "", map[string]any{"name": "v1"})
	require.NoError(t, err)
	_, err = client.Upsert(ctx, "customers", rec.ID, map[string]any{"name": "v2"})
	require.NoError(t, err)
	_, err = client.Upsert(ctx, "customers", rec.ID, map[string]any{"name": "v3"})
	require.NoError(t, err)

	snap, err := client.snapshotPushBatch(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	require.Len(t, snap.Seqs[recordKey("customers", rec.ID)], 3)

	item := snap.Items[0]
	require.Equal(t, syncserver.OpInsert, item.Op) // never pushed, still an insert
	var fields map[string]any
	require.NoError(t, json.Unmarshal(item.Data, &fields))
	require.Equal(t, "v3", fields["name"]) // only the latest state is pushed
}

func TestSnapshotDeleteAfterEditsIsDelete(t *testing.T) {
	client := newTestClient(t, "")
	ctx := context.Background()

	rec, err := client.Upsert(ctx, "customers", "", map[string]any{"name": "v1"})
	require.NoError(t, err)
	require.NoError(t, client.Delete(ctx, "customers", rec.ID))

	snap, err := client.snapshotPushBatch(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	require.Equal(t, syncserver.OpDelete, snap.Items[0].Op)
	require.Empty(t, snap.Items[0].Data)
}

func TestSnapshotUsesUpdateOpForSyncedRecords(t *testing.T) {
	client := newTestClient(t, "")
	ctx := context.Background()

	rec, err := client.Upsert(ctx, "customers", "", map[string]any{"name": "v1"})
	require.NoError(t, err)

	// Simulate a previous successful push
	_, err = client.DB.Exec(`UPDATE customers SET server_id = 'srv-1', sync_status = 'synced' WHERE id = ?`, rec.ID)
	require.NoError(t, err)

	_, err = client.Upsert(ctx, "customers", rec.ID, map[string]any{"name": "v2"})
	require.NoError(t, err)

	snap, err := client.snapshotPushBatch(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	require.Equal(t, syncserver.OpUpdate, snap.Items[0].Op)
	require.Equal(t, "srv-1", snap.Items[0].ServerID)
}

func TestPendingChangeCountIsPerRecord(t *testing.T) {
	client := newTestClient(t, "")
	ctx := context.Background()

	count, err := client.PendingChangeCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	rec, err := client.Upsert(ctx, "customers", "", map[string]any{"name": "a"})
	require.NoError(t, err)
	_, err = client.Upsert(ctx, "customers", rec.ID, map[string]any{"name": "a2"})
	require.NoError(t, err)
	_, err = client.Upsert(ctx, "companies", "", map[string]any{"name": "b"})
	require.NoError(t, err)

	// Three journal entries but only two distinct records
	count, err = client.PendingChangeCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestApplyModeSuppressesTriggers(t *testing.T) {
	client := newTestClient(t, "")
	ctx := context.Background()

	_, err := client.DB.Exec(`UPDATE sync_client_info SET apply_mode = 1 WHERE id = 1`)
	require.NoError(t, err)

	_, err = client.Upsert(ctx, "customers", "", map[string]any{"name": "silent"})
	require.NoError(t, err)

	count, err := client.PendingChangeCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	_, err = client.DB.Exec(`UPDATE sync_client_info SET apply_mode = 0 WHERE id = 1`)
	require.NoError(t, err)
}
