package db

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
)

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error) error {
	return WithTxAt(ctx, pool, pgx.RepeatableRead, fn)
}

// WithTxAt executes a function within a transaction at the given isolation
// level. Paths that serialize on an advisory lock need ReadCommitted: at
// RepeatableRead a waiter that blocked on the lock would keep reading from
// its pre-lock snapshot and miss the holder's commit.
func WithTxAt(ctx context.Context, pool Beginner, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// AdvisoryLock takes a transaction-scoped advisory lock on (class, key).
// The lock releases automatically on commit or rollback.
func AdvisoryLock(ctx context.Context, tx pgx.Tx, class int32, key int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", LockKey(class, key)); err != nil {
		return fmt.Errorf("platform/db: advisory lock: %w", err)
	}
	return nil
}

// LockKey folds (class, key) into the single bigint advisory-lock keyspace.
// The fold hashes the full 64-bit key, so ids past 32 bits keep distinct
// locks instead of truncating onto each other.
func LockKey(class int32, key int64) int64 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(class))
	binary.BigEndian.PutUint64(buf[4:], uint64(key))
	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}
