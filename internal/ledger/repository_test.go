package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// The reconcile transaction must take the student advisory lock before
// any ledger read. A racer that loses the lock then reads the winner's
// committed state and lands on AlreadyPaid; a snapshot taken before the
// lock would turn that outcome into a serialization failure instead.

type stubRow struct {
	err  error
	scan func(dest ...any)
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.scan != nil {
		r.scan(dest...)
	}
	return nil
}

type stubTx struct {
	pgx.Tx

	pool *stubPool
}

func (t *stubTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.pool.events = append(t.pool.events, "tx-exec: "+strings.TrimSpace(sql))
	return pgconn.CommandTag{}, nil
}

func (t *stubTx) Commit(context.Context) error   { return nil }
func (t *stubTx) Rollback(context.Context) error { return nil }

type stubPool struct {
	events    []string
	rowErr    error
	studentID int64
	beginOpts []pgx.TxOptions
}

func (p *stubPool) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	p.events = append(p.events, "pool-exec: "+strings.TrimSpace(sql))
	return pgconn.CommandTag{}, nil
}

func (p *stubPool) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	p.events = append(p.events, "pool-query: "+strings.TrimSpace(sql))
	return nil, pgx.ErrNoRows
}

func (p *stubPool) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	p.events = append(p.events, "pool-row: "+strings.TrimSpace(sql))
	if p.rowErr != nil {
		return stubRow{err: p.rowErr}
	}
	return stubRow{scan: func(dest ...any) {
		if id, ok := dest[0].(*int64); ok {
			*id = p.studentID
		}
	}}
}

func (p *stubPool) BeginTx(_ context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	p.events = append(p.events, "begin")
	p.beginOpts = append(p.beginOpts, txOptions)
	return &stubTx{pool: p}, nil
}

func TestWithDueTxLocksBeforeReading(t *testing.T) {
	pool := &stubPool{studentID: 42}
	repo := NewRepository(pool)

	var ranInTx bool
	err := repo.WithDueTx(context.Background(), 7, func(ctx context.Context, tx TxLedger) error {
		ranInTx = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ranInTx)

	require.GreaterOrEqual(t, len(pool.events), 3)
	// Student resolution happens outside the transaction.
	require.Contains(t, pool.events[0], "pool-row")
	require.Contains(t, pool.events[0], "SELECT student_id FROM dues")
	require.Equal(t, "begin", pool.events[1])
	// The lock is the transaction's first statement, ahead of any read.
	require.Contains(t, pool.events[2], "tx-exec")
	require.Contains(t, pool.events[2], "pg_advisory_xact_lock")
}

func TestWithDueTxRunsReadCommitted(t *testing.T) {
	pool := &stubPool{studentID: 42}
	repo := NewRepository(pool)

	err := repo.WithDueTx(context.Background(), 7, func(ctx context.Context, tx TxLedger) error {
		return nil
	})
	require.NoError(t, err)
	require.Len(t, pool.beginOpts, 1)
	require.Equal(t, pgx.ReadCommitted, pool.beginOpts[0].IsoLevel)
}

func TestWithDueTxUnknownDue(t *testing.T) {
	pool := &stubPool{rowErr: pgx.ErrNoRows}
	repo := NewRepository(pool)

	err := repo.WithDueTx(context.Background(), 99, func(ctx context.Context, tx TxLedger) error {
		t.Fatal("closure must not run for an unknown due")
		return nil
	})
	require.ErrorIs(t, err, ErrDueNotFound)
	for _, ev := range pool.events {
		require.NotEqual(t, "begin", ev, "no transaction should open for an unknown due")
	}
}
