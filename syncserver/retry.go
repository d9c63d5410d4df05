// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	txRetryAttempts = 3
	txRetryBackoff  = 25 * time.Millisecond
)

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

// withRetryableTx runs fn in a transaction, retrying a few times on
// serialization and lock errors. fn must be safe to re-run from scratch.
func withRetryableTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < txRetryAttempts; attempt++ {
		if attempt > 0 {
			if serr := sleepWithContext(ctx, time.Duration(attempt)*txRetryBackoff); serr != nil {
				return serr
			}
		}
		err = pgx.BeginFunc(ctx, pool, fn)
		if err == nil || !isRetryablePGTxError(err) {
			return err
		}
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
