package syncserver

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEvaluatePush_NewRecordApplies(t *testing.T) {
	incoming := &RecordPush{
		TableName: "customers",
		RecordID:  "c-1",
		Op:        OpInsert,
		Data:      json.RawMessage(`{"name":"Acme"}`),
		UpdatedAt: 100,
	}
	require.Equal(t, decisionApply, evaluatePush(nil, incoming))
}

func TestEvaluatePush_NewerIncomingWins(t *testing.T) {
	existing := &StoredRecord{
		TableName: "customers",
		RecordID:  "c-1",
		ServerID:  uuid.New(),
		UpdatedAt: 100,
	}
	incoming := &RecordPush{
		TableName: "customers",
		RecordID:  "c-1",
		Op:        OpUpdate,
		Data:      json.RawMessage(`{"name":"Acme v2"}`),
		UpdatedAt: 200,
	}
	require.Equal(t, decisionApply, evaluatePush(existing, incoming))
}

func TestEvaluatePush_OlderIncomingConflicts(t *testing.T) {
	existing := &StoredRecord{
		TableName: "customers",
		RecordID:  "c-1",
		ServerID:  uuid.New(),
		UpdatedAt: 200,
	}
	incoming := &RecordPush{
		TableName: "customers",
		RecordID:  "c-1",
		Op:        OpUpdate,
		Data:      json.RawMessage(`{"name":"stale"}`),
		UpdatedAt: 100,
	}
	require.Equal(t, decisionConflict, evaluatePush(existing, incoming))
}

func TestEvaluatePush_RepushIsNoop(t *testing.T) {
	sid := uuid.New()
	existing := &StoredRecord{
		TableName: "customers",
		RecordID:  "c-1",
		ServerID:  sid,
		UpdatedAt: 150,
	}
	// Same server id, same timestamp: a retry after a lost response.
	incoming := &RecordPush{
		TableName: "customers",
		RecordID:  "c-1",
		Op:        OpUpdate,
		Data:      json.RawMessage(`{"name":"Acme"}`),
		ServerID:  sid.String(),
		UpdatedAt: 150,
	}
	require.Equal(t, decisionNoop, evaluatePush(existing, incoming))
}

func TestEvaluatePush_EqualTimestampWithoutServerIDApplies(t *testing.T) {
	existing := &StoredRecord{
		TableName: "customers",
		RecordID:  "c-1",
		ServerID:  uuid.New(),
		UpdatedAt: 150,
	}
	incoming := &RecordPush{
		TableName: "customers",
		RecordID:  "c-1",
		Op:        OpUpdate,
		Data:      json.RawMessage(`{"name":"Acme"}`),
		UpdatedAt: 150,
	}
	require.Equal(t, decisionApply, evaluatePush(existing, incoming))
}

func TestValidatePush(t *testing.T) {
	s := &SyncService{config: &ServiceConfig{MaxPayloadBytes: 16}}

	tests := []struct {
		name   string
		item   RecordPush
		ok     bool
		reason string
	}{
		{
			name: "valid insert",
			item: RecordPush{TableName: "companies", Op: OpInsert, Data: json.RawMessage(`{"a":1}`)},
			ok:   true,
		},
		{
			name: "valid delete without payload",
			item: RecordPush{TableName: "invoices", Op: OpDelete},
			ok:   true,
		},
		{
			name:   "unregistered table",
			item:   RecordPush{TableName: "users", Op: OpInsert, Data: json.RawMessage(`{"a":1}`)},
			ok:     false,
			reason: ReasonUnregisteredTable,
		},
		{
			name:   "upsert without payload",
			item:   RecordPush{TableName: "proposals", Op: OpUpdate},
			ok:     false,
			reason: ReasonMissingPayload,
		},
		{
			name:   "oversized payload",
			item:   RecordPush{TableName: "documents", Op: OpInsert, Data: json.RawMessage(`{"blob":"aaaaaaaaaaaaaaaa"}`)},
			ok:     false,
			reason: ReasonBadPayload,
		},
		{
			name:   "unknown op",
			item:   RecordPush{TableName: "customers", Op: "MERGE", Data: json.RawMessage(`{"a":1}`)},
			ok:     false,
			reason: ReasonBadPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := s.validatePush(&tt.item)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.reason, reason)
		})
	}
}

func TestMarshalServerRow(t *testing.T) {
	sid := uuid.New()
	rec := &StoredRecord{
		TableName: "proposals",
		RecordID:  "p-9",
		ServerID:  sid,
		Payload:   []byte(`{"title":"Q3 renewal"}`),
		Version:   4,
		UpdatedAt: 777,
		SourceID:  "device-b",
	}

	raw, err := marshalServerRow(rec)
	require.NoError(t, err)

	var row RecordPull
	require.NoError(t, json.Unmarshal(raw, &row))
	require.Equal(t, "proposals", row.TableName)
	require.Equal(t, "p-9", row.RecordID)
	require.Equal(t, sid.String(), row.ServerID)
	require.Equal(t, int64(4), row.Version)
	require.False(t, row.Deleted)
	require.Equal(t, int64(777), row.UpdatedAt)
	require.Equal(t, "device-b", row.SourceID)
	require.JSONEq(t, `{"title":"Q3 renewal"}`, string(row.Data))
}
