package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"
)

// txDriver is a database/sql driver that only counts transaction outcomes.
type txDriver struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
	commitErr error
}

func (d *txDriver) Open(string) (driver.Conn, error) { return &txConn{d: d}, nil }

func (d *txDriver) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits, d.rollbacks
}

type txConn struct{ d *txDriver }

func (c *txConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *txConn) Close() error                        { return nil }
func (c *txConn) Begin() (driver.Tx, error)           { return &fakeTx{d: c.d}, nil }
func (c *txConn) Ping(context.Context) error          { return nil }

type fakeTx struct{ d *txDriver }

func (t *fakeTx) Commit() error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.commits++
	return t.d.commitErr
}

func (t *fakeTx) Rollback() error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.rollbacks++
	return nil
}

var registerOnce sync.Once
var sharedDriver = &txDriver{}

func openFake(t *testing.T) (*sql.DB, *txDriver) {
	t.Helper()
	registerOnce.Do(func() { sql.Register("txfake", sharedDriver) })
	sharedDriver.mu.Lock()
	sharedDriver.commits, sharedDriver.rollbacks, sharedDriver.commitErr = 0, 0, nil
	sharedDriver.mu.Unlock()

	db, err := OpenPostgres(context.Background(), "txfake", "", PostgresPoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, sharedDriver
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, d := openFake(t)
	if err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error { return nil }); err != nil {
		t.Fatalf("with tx: %v", err)
	}
	if c, r := d.counts(); c != 1 || r != 0 {
		t.Fatalf("expected commit only, got commits=%d rollbacks=%d", c, r)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db, d := openFake(t)
	boom := errors.New("boom")
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if c, r := d.counts(); c != 0 || r != 1 {
		t.Fatalf("expected rollback only, got commits=%d rollbacks=%d", c, r)
	}
}

func TestWithTx_RollbackAndRepanic(t *testing.T) {
	db, d := openFake(t)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic to propagate")
		}
		if c, r := d.counts(); c != 0 || r != 1 {
			t.Fatalf("expected rollback only, got commits=%d rollbacks=%d", c, r)
		}
	}()
	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error { panic("boom") })
}

func TestWithTx_ReturnsCommitError(t *testing.T) {
	db, d := openFake(t)
	d.mu.Lock()
	d.commitErr = errors.New("serialization failure")
	d.mu.Unlock()
	if err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error { return nil }); err == nil {
		t.Fatalf("expected commit error")
	}
}

func TestPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 5}.withDefaults()
	if got.MaxOpenConns != 5 || got.MaxIdleConns != 25 || got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

type downDriver struct{ pings int }

func (d *downDriver) Open(string) (driver.Conn, error) { return &downConn{d: d}, nil }

type downConn struct{ d *downDriver }

func (c *downConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *downConn) Close() error                        { return nil }
func (c *downConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }
func (c *downConn) Ping(context.Context) error {
	c.d.pings++
	return driver.ErrBadConn
}

func TestOpenPostgres_RetriesThenFails(t *testing.T) {
	d := &downDriver{}
	sql.Register("downfake", d)
	_, err := OpenPostgres(context.Background(), "downfake", "", PostgresPoolConfig{
		MaxOpenConns:    1,
		ConnectAttempts: 3,
		ConnectBackoff:  time.Millisecond,
	})
	if err == nil {
		t.Fatalf("expected ping failure")
	}
	if d.pings < 3 {
		t.Fatalf("expected at least three pings, got %d", d.pings)
	}
}
