package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx

	execs      []string
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	opts pgx.TxOptions
	tx   *fakeTx
}

func (b *fakeBeginner) BeginTx(_ context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	b.opts = txOptions
	b.tx = &fakeTx{}
	return b.tx, nil
}

func TestWithTxDefaultsToRepeatableRead(t *testing.T) {
	pool := &fakeBeginner{}
	err := WithTx(context.Background(), pool, func(pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.Equal(t, pgx.RepeatableRead, pool.opts.IsoLevel)
	require.True(t, pool.tx.committed)
}

func TestWithTxAtPropagatesIsolationLevel(t *testing.T) {
	pool := &fakeBeginner{}
	err := WithTxAt(context.Background(), pool, pgx.ReadCommitted, func(pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.Equal(t, pgx.ReadCommitted, pool.opts.IsoLevel)
}

func TestWithTxAtRollsBackOnError(t *testing.T) {
	pool := &fakeBeginner{}
	boom := errors.New("boom")
	err := WithTxAt(context.Background(), pool, pgx.ReadCommitted, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, pool.tx.committed)
	require.True(t, pool.tx.rolledBack)
}

func TestAdvisoryLockUsesSingleBigintKey(t *testing.T) {
	tx := &fakeTx{}
	require.NoError(t, AdvisoryLock(context.Background(), tx, 7101, 42))
	require.Len(t, tx.execs, 1)
	require.Equal(t, "SELECT pg_advisory_xact_lock($1)", tx.execs[0])
}

func TestLockKey(t *testing.T) {
	require.Equal(t, LockKey(7101, 42), LockKey(7101, 42))

	// Same id under a different class is a different lock.
	require.NotEqual(t, LockKey(7101, 42), LockKey(7102, 42))

	// Ids past 32 bits must not alias their truncated counterparts.
	const wide = int64(42) + (1 << 32)
	require.NotEqual(t, LockKey(7101, 42), LockKey(7101, wide))
}
