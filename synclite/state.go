// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// StateManager gates sync sessions and publishes status snapshots. At most
// one session runs at a time; a request while one is running is rejected
// immediately with ErrSyncInProgress rather than queued, since the running
// session will pick up any changes journaled in the meantime.
type StateManager struct {
	client *Client

	mu      sync.Mutex
	syncing bool
	online  bool

	subMu   sync.Mutex
	subs    map[int]chan SyncStatus
	nextSub int
}

func newStateManager(client *Client) *StateManager {
	return &StateManager{
		client: client,
		subs:   make(map[int]chan SyncStatus),
	}
}

// RequestSync runs one sync session, or fails fast when one is already
// running.
func (m *StateManager) RequestSync(ctx context.Context) (*SyncResult, error) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	m.syncing = true
	m.mu.Unlock()
	m.publish(ctx)

	result, err := m.client.runSession(ctx)

	m.mu.Lock()
	m.syncing = false
	if err == nil && result != nil {
		m.online = result.Success
	}
	m.mu.Unlock()
	m.publish(ctx)

	return result, err
}

// Status reports the current engine state. The online flag comes from a
// live health probe so the UI sees connectivity changes promptly.
func (m *StateManager) Status(ctx context.Context) (*SyncStatus, error) {
	serverURL, err := m.client.ServerURL()
	if err != nil {
		return nil, err
	}
	lastSync, err := m.client.LastSyncTimestamp()
	if err != nil {
		return nil, err
	}
	pending, err := m.client.PendingChangeCount(ctx)
	if err != nil {
		return nil, err
	}

	online := m.client.transport.Probe(ctx, serverURL)

	m.mu.Lock()
	m.online = online
	syncing := m.syncing
	m.mu.Unlock()

	return &SyncStatus{
		IsOnline:       online,
		IsSyncing:      syncing,
		LastSync:       lastSync,
		PendingChanges: pending,
		ServerURL:      serverURL,
	}, nil
}

// SetServerURL validates and persists a new server base URL. It takes
// effect on the next sync session.
func (m *StateManager) SetServerURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL %q: must be absolute http or https", rawURL)
	}
	if err := m.client.setMeta(metaServerURL, rawURL); err != nil {
		return err
	}
	m.client.logger.Info("server URL changed", "url", rawURL)
	return nil
}

// Subscribe registers a status listener. The channel carries the latest
// snapshot and drops intermediate ones when the listener is slow. The
// returned cancel function must be called to release the subscription.
func (m *StateManager) Subscribe() (<-chan SyncStatus, func()) {
	ch := make(chan SyncStatus, 1)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
		m.subMu.Unlock()
	}
	return ch, cancel
}

// publish pushes a fresh snapshot to every subscriber, latest-wins.
func (m *StateManager) publish(ctx context.Context) {
	m.subMu.Lock()
	if len(m.subs) == 0 {
		m.subMu.Unlock()
		return
	}
	m.subMu.Unlock()

	status, err := m.snapshotWithoutProbe(ctx)
	if err != nil {
		m.client.logger.Warn("status publish failed", "error", err)
		return
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- *status:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- *status:
			default:
			}
		}
	}
}

// snapshotWithoutProbe builds a status snapshot from local state only.
// Used on the publish path where a network probe would stall the engine.
func (m *StateManager) snapshotWithoutProbe(ctx context.Context) (*SyncStatus, error) {
	serverURL, err := m.client.ServerURL()
	if err != nil {
		return nil, err
	}
	lastSync, err := m.client.LastSyncTimestamp()
	if err != nil {
		return nil, err
	}
	pending, err := m.client.PendingChangeCount(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return &SyncStatus{
		IsOnline:       m.online,
		IsSyncing:      m.syncing,
		LastSync:       lastSync,
		PendingChanges: pending,
		ServerURL:      serverURL,
	}, nil
}

// Run drives periodic background syncs until the context is canceled.
// A tick that lands while a session is running is skipped.
func (m *StateManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := m.RequestSync(ctx)
				if errors.Is(err, ErrSyncInProgress) {
					continue
				}
				if err != nil {
					m.client.logger.Warn("background sync failed", "error", err)
					continue
				}
				if !result.Success {
					m.client.logger.Info("background sync skipped or offline", "message", result.Message)
				}
			}
		}
	}()
}
