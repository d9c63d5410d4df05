// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record does not exist or is tombstoned.
var ErrNotFound = errors.New("record not found")

// ErrSyncInProgress is returned when a sync is requested while another
// session is still running. The caller should try again later, the running
// session will pick up any journal entries written in the meantime.
var ErrSyncInProgress = errors.New("sync already in progress")

// StorageError wraps a local database failure. Local persistence problems
// are never retried silently, they surface to the caller.
type StorageError struct {
	Op  string // The operation that failed, e.g. "upsert customers"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// TransportError wraps a network or server failure during a sync session.
// A TransportError aborts the session with no local writes, so every
// journaled change survives for the next attempt.
type TransportError struct {
	Op         string // "push", "pull" or "probe"
	URL        string
	StatusCode int // 0 when the request never reached the server
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
