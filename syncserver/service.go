// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncService is the server-side half of the CRM sync protocol. It owns the
// authoritative record store and resolves concurrent edits with whole-record
// last-write-wins on the client logical timestamp.
type SyncService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *ServiceConfig
}

// ServiceConfig holds configuration for the sync service.
type ServiceConfig struct {
	AppName          string // Application name, reported by the health endpoint
	MaxPushBatchSize int    // Maximum records per push request (0 = unlimited)
	MaxPayloadBytes  int    // Maximum JSON payload size per record (0 = unlimited)
}

// StoredRecord is the server's current state for one record.
type StoredRecord struct {
	TableName string
	RecordID  string
	ServerID  uuid.UUID
	Payload   []byte
	Version   int64
	Deleted   bool
	UpdatedAt int64
	AppliedAt int64
	SourceID  string
}

// NewSyncService creates the service and initializes the database schema.
func NewSyncService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if config == nil {
		config = &ServiceConfig{AppName: "taury-crm"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	service := &SyncService{
		pool:   pool,
		logger: logger,
		config: config,
	}

	if err := service.initializeSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize sync service: %w", err)
	}
	return service, nil
}

// pushDecision is the outcome of evaluating one pushed record against the
// server's current state.
type pushDecision int

const (
	decisionApply    pushDecision = iota // Incoming wins, write it
	decisionNoop                         // Duplicate of an already-applied push
	decisionConflict                     // Server state is newer, server wins
)

// validatePush rejects records the server can never apply. These map to the
// `invalid` status so the client drops them instead of retrying forever.
func (s *SyncService) validatePush(item *RecordPush) (reason string, ok bool) {
	if !IsSyncedTable(item.TableName) {
		return ReasonUnregisteredTable, false
	}
	switch item.Op {
	case OpInsert, OpUpdate:
		if len(item.Data) == 0 {
			return ReasonMissingPayload, false
		}
		if s.config.MaxPayloadBytes > 0 && len(item.Data) > s.config.MaxPayloadBytes {
			return ReasonBadPayload, false
		}
	case OpDelete:
		// Tombstones carry no payload
	default:
		return ReasonBadPayload, false
	}
	return "", true
}

// evaluatePush decides applied vs conflict for a valid record. Pure function
// over the existing row (nil when the server has never seen the record).
//
// A re-push of an already-applied change arrives with the server-assigned id
// and an unchanged timestamp; it is acknowledged without a write so retries
// after a lost response stay idempotent.
func evaluatePush(existing *StoredRecord, incoming *RecordPush) pushDecision {
	if existing == nil {
		return decisionApply
	}
	if incoming.ServerID != "" && existing.ServerID.String() == incoming.ServerID &&
		existing.UpdatedAt == incoming.UpdatedAt {
		return decisionNoop
	}
	if existing.UpdatedAt > incoming.UpdatedAt {
		return decisionConflict
	}
	return decisionApply
}

// ProcessPush applies a batch of client changes in one transaction and
// reports a per-record status. The batch either commits whole or not at all,
// which keeps re-pushes after a failure safe.
func (s *SyncService) ProcessPush(ctx context.Context, userID, sourceID string, req *PushRequest) (*PushResponse, error) {
	if s.config.MaxPushBatchSize > 0 && len(req.Changes) > s.config.MaxPushBatchSize {
		return nil, fmt.Errorf("push batch of %d exceeds limit %d", len(req.Changes), s.config.MaxPushBatchSize)
	}

	serverTS := time.Now().UnixMilli()
	statuses := make([]RecordPushStatus, 0, len(req.Changes))

	err := withRetryableTx(ctx, s.pool, func(tx pgx.Tx) error {
		statuses = statuses[:0]
		for i := range req.Changes {
			item := &req.Changes[i]
			st, err := s.processOne(ctx, tx, userID, sourceID, item, serverTS)
			if err != nil {
				return err
			}
			statuses = append(statuses, *st)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("push batch failed", "user", userID, "source", sourceID,
			"changes", len(req.Changes), "error", err)
		return nil, err
	}

	s.logger.Info("push batch applied", "user", userID, "source", sourceID,
		"changes", len(req.Changes), "server_ts", serverTS)
	return &PushResponse{
		Success:         true,
		ServerTimestamp: serverTS,
		Statuses:        statuses,
	}, nil
}

// processOne evaluates and applies a single pushed record within the batch
// transaction.
func (s *SyncService) processOne(ctx context.Context, tx pgx.Tx, userID, sourceID string, item *RecordPush, serverTS int64) (*RecordPushStatus, error) {
	status := &RecordPushStatus{
		TableName: item.TableName,
		RecordID:  item.RecordID,
	}

	if reason, ok := s.validatePush(item); !ok {
		status.Status = StInvalid
		status.Reason = reason
		status.Message = fmt.Sprintf("record rejected: %s", reason)
		s.logger.Warn("invalid push record", "user", userID, "table", item.TableName,
			"record", item.RecordID, "reason", reason)
		return status, nil
	}

	existing, err := s.loadRecord(ctx, tx, userID, item.TableName, item.RecordID)
	if err != nil {
		return nil, err
	}

	switch evaluatePush(existing, item) {
	case decisionNoop:
		status.Status = StApplied
		status.ServerID = existing.ServerID.String()
		return status, nil

	case decisionConflict:
		status.Status = StConflict
		status.ServerID = existing.ServerID.String()
		status.ServerRow, err = marshalServerRow(existing)
		if err != nil {
			return nil, err
		}
		status.Message = "server state is newer"
		return status, nil
	}

	serverID := uuid.New()
	version := item.Version
	if existing != nil {
		serverID = existing.ServerID
		if existing.Version >= version {
			version = existing.Version + 1
		}
	}

	deleted := item.Op == OpDelete
	var payload []byte
	if !deleted {
		payload = item.Data
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO crm_sync.records
			(user_id, table_name, record_id, server_id, payload, version, is_deleted, updated_at, applied_at, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, table_name, record_id) DO UPDATE SET
			payload    = EXCLUDED.payload,
			version    = EXCLUDED.version,
			is_deleted = EXCLUDED.is_deleted,
			updated_at = EXCLUDED.updated_at,
			applied_at = EXCLUDED.applied_at,
			source_id  = EXCLUDED.source_id`,
		userID, item.TableName, item.RecordID, serverID, payload, version,
		deleted, item.UpdatedAt, serverTS, sourceID)
	if err != nil {
		return nil, fmt.Errorf("upsert %s/%s: %w", item.TableName, item.RecordID, err)
	}

	status.Status = StApplied
	status.ServerID = serverID.String()
	return status, nil
}

// loadRecord fetches the server's current state for one record, nil when the
// record has never been pushed.
func (s *SyncService) loadRecord(ctx context.Context, tx pgx.Tx, userID, table, recordID string) (*StoredRecord, error) {
	rec := &StoredRecord{TableName: table, RecordID: recordID}
	err := tx.QueryRow(ctx, `
		SELECT server_id, payload, version, is_deleted, updated_at, applied_at, source_id
		FROM crm_sync.records
		WHERE user_id = $1 AND table_name = $2 AND record_id = $3`,
		userID, table, recordID).
		Scan(&rec.ServerID, &rec.Payload, &rec.Version, &rec.Deleted,
			&rec.UpdatedAt, &rec.AppliedAt, &rec.SourceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", table, recordID, err)
	}
	return rec, nil
}

// marshalServerRow renders the server's current state as a pull-shaped change
// so a conflicted client can adopt it without a second round trip.
func marshalServerRow(rec *StoredRecord) ([]byte, error) {
	row := RecordPull{
		TableName: rec.TableName,
		RecordID:  rec.RecordID,
		Data:      rec.Payload,
		ServerID:  rec.ServerID.String(),
		Version:   rec.Version,
		Deleted:   rec.Deleted,
		UpdatedAt: rec.UpdatedAt,
		SourceID:  rec.SourceID,
	}
	return json.Marshal(row)
}

// ProcessPull returns every record applied on the server after `since`,
// ordered by apply time. The caller filters out its own writes by SourceID.
func (s *SyncService) ProcessPull(ctx context.Context, userID string, since int64) (*PullResponse, error) {
	serverTS := time.Now().UnixMilli()

	rows, err := s.pool.Query(ctx, `
		SELECT table_name, record_id, server_id, payload, version, is_deleted, updated_at, source_id
		FROM crm_sync.records
		WHERE user_id = $1 AND applied_at > $2 AND applied_at <= $3
		ORDER BY applied_at, table_name, record_id`,
		userID, since, serverTS)
	if err != nil {
		return nil, fmt.Errorf("pull query: %w", err)
	}
	defer rows.Close()

	changes := make([]RecordPull, 0)
	for rows.Next() {
		var ch RecordPull
		var serverID uuid.UUID
		if err := rows.Scan(&ch.TableName, &ch.RecordID, &serverID, &ch.Data,
			&ch.Version, &ch.Deleted, &ch.UpdatedAt, &ch.SourceID); err != nil {
			return nil, fmt.Errorf("pull scan: %w", err)
		}
		ch.ServerID = serverID.String()
		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pull rows: %w", err)
	}

	s.logger.Debug("pull window served", "user", userID, "since", since,
		"changes", len(changes), "server_ts", serverTS)
	return &PullResponse{Changes: changes, ServerTimestamp: serverTS}, nil
}
