package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
)

// Minimal driver so WithTx can be exercised without a live database.

type txCounter struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
}

type fakeDriver struct{ counter *txCounter }

func (d *fakeDriver) Open(_ string) (driver.Conn, error) {
	return &fakeConn{counter: d.counter}, nil
}

type fakeConn struct{ counter *txCounter }

func (c *fakeConn) Prepare(_ string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *fakeConn) Close() error                          { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)             { return &fakeTx{counter: c.counter}, nil }

type fakeTx struct{ counter *txCounter }

func (t *fakeTx) Commit() error {
	t.counter.mu.Lock()
	defer t.counter.mu.Unlock()
	t.counter.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.counter.mu.Lock()
	defer t.counter.mu.Unlock()
	t.counter.rollbacks++
	return nil
}

var (
	txTestCounter = &txCounter{}
	txTestOnce    sync.Once
)

func txTestDB(t *testing.T) *sql.DB {
	t.Helper()
	txTestOnce.Do(func() {
		sql.Register("faketx", &fakeDriver{counter: txTestCounter})
	})
	db, err := sql.Open("faketx", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func snapshot() (int, int) {
	txTestCounter.mu.Lock()
	defer txTestCounter.mu.Unlock()
	return txTestCounter.commits, txTestCounter.rollbacks
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := txTestDB(t)
	defer db.Close()
	c0, _ := snapshot()

	err := WithTx(context.Background(), db, nil, func(_ context.Context, _ *sql.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c1, _ := snapshot(); c1 != c0+1 {
		t.Fatalf("expected one commit")
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := txTestDB(t)
	defer db.Close()
	_, r0 := snapshot()

	wantErr := errors.New("boom")
	err := WithTx(context.Background(), db, nil, func(_ context.Context, _ *sql.Tx) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error back, got %v", err)
	}
	if _, r1 := snapshot(); r1 != r0+1 {
		t.Fatalf("expected one rollback")
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := txTestDB(t)
	defer db.Close()
	_, r0 := snapshot()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = WithTx(context.Background(), db, nil, func(_ context.Context, _ *sql.Tx) error {
			panic("boom")
		})
	}()

	if _, r1 := snapshot(); r1 != r0+1 {
		t.Fatalf("expected one rollback")
	}
}
