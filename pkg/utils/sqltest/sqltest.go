// Package sqltest provides a scripted database/sql driver for repository tests.
//
// Each statement the code under test sends is matched, in order, against the
// scripted steps by substring. Rows are returned exactly as a Postgres driver
// would hand them to database/sql: nil for NULL, time.Time, int64, string, []byte.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Step is one expected statement and its outcome.
type Step struct {
	// Match must be a substring of the SQL text.
	Match   string
	Columns []string
	Rows    [][]driver.Value
	// Affected is the RowsAffected of an Exec.
	Affected int64
	Err      error
}

// Call is a statement the code sent.
type Call struct {
	Query string
	Args  []any
}

// DB wraps a *sql.DB backed by the script.
type DB struct {
	*sql.DB

	mu        sync.Mutex
	steps     []Step
	next      int
	calls     []Call
	commits   int
	rollbacks int
}

// Open returns a DB that answers with steps. Close it when done.
func Open(steps ...Step) *DB {
	d := &DB{steps: steps}
	d.DB = sql.OpenDB(connector{d: d})
	d.DB.SetMaxOpenConns(1)
	return d
}

// Calls returns the statements seen so far.
func (d *DB) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Remaining reports how many scripted steps were never reached.
func (d *DB) Remaining() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.steps) - d.next
}

// TxCounts returns the number of commits and rollbacks.
func (d *DB) TxCounts() (commits, rollbacks int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits, d.rollbacks
}

func (d *DB) take(query string, args []driver.NamedValue) (Step, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	d.calls = append(d.calls, Call{Query: query, Args: vals})
	if d.next >= len(d.steps) {
		return Step{}, fmt.Errorf("sqltest: unexpected statement: %s", strings.TrimSpace(query))
	}
	st := d.steps[d.next]
	if !strings.Contains(query, st.Match) {
		return Step{}, fmt.Errorf("sqltest: step %d wants %q, got: %s", d.next, st.Match, strings.TrimSpace(query))
	}
	d.next++
	return st, nil
}

type connector struct{ d *DB }

func (c connector) Connect(context.Context) (driver.Conn, error) { return &conn{d: c.d}, nil }
func (c connector) Driver() driver.Driver                         { return drv{} }

type drv struct{}

func (drv) Open(string) (driver.Conn, error) {
	return nil, fmt.Errorf("sqltest: use sqltest.Open")
}

type conn struct{ d *DB }

func (c *conn) Prepare(query string) (driver.Stmt, error) { return &stmt{c: c, query: query}, nil }
func (c *conn) Close() error                              { return nil }
func (c *conn) Begin() (driver.Tx, error)                 { return &tx{d: c.d}, nil }

// CheckNamedValue accepts any argument, as pgx does for slices and pointers.
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	st, err := c.d.take(query, args)
	if err != nil {
		return nil, err
	}
	if st.Err != nil {
		return nil, st.Err
	}
	return &rows{cols: st.Columns, data: st.Rows}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	st, err := c.d.take(query, args)
	if err != nil {
		return nil, err
	}
	if st.Err != nil {
		return nil, st.Err
	}
	return driver.RowsAffected(st.Affected), nil
}

type stmt struct {
	c     *conn
	query string
}

func (s *stmt) Close() error  { return nil }
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.c.ExecContext(context.Background(), s.query, named(args))
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.c.QueryContext(context.Background(), s.query, named(args))
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

type tx struct{ d *DB }

func (t *tx) Commit() error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.commits++
	return nil
}

func (t *tx) Rollback() error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.rollbacks++
	return nil
}

type rows struct {
	cols []string
	data [][]driver.Value
	pos  int
}

func (r *rows) Columns() []string { return r.cols }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}
