package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

type stepKind string

const (
	opExec     stepKind = "exec"
	opQuery    stepKind = "query"
	opBegin    stepKind = "begin"
	opCommit   stepKind = "commit"
	opRollback stepKind = "rollback"
)

// mockOperation 是脚本中的一步：期望的操作类型、SQL 与参数，以及回放的结果。
// query 为空时不比较 SQL，args 为 nil 时不比较参数。
type mockOperation struct {
	typ    stepKind
	query  string
	args   []driver.Value
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func execArgsOp(query string, args []driver.Value, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, args: args, result: result}
}

func execErrOp(query string, err error) mockOperation {
	return mockOperation{typ: opExec, query: query, err: err}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation    { return mockOperation{typ: opBegin} }
func commitOp() mockOperation   { return mockOperation{typ: opCommit} }
func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

// scriptConnector 以固定脚本回放数据库交互，任何偏离脚本的调用都返回错误。
type scriptConnector struct {
	mu    sync.Mutex
	steps []mockOperation
	pos   int
}

func newMockDB(t *testing.T, steps []mockOperation) (*sql.DB, *scriptConnector) {
	t.Helper()

	sc := &scriptConnector{steps: steps}
	db := sql.OpenDB(sc)
	db.SetMaxOpenConns(1)
	return db, sc
}

func (sc *scriptConnector) Connect(context.Context) (driver.Conn, error) {
	return scriptConn{sc}, nil
}

func (sc *scriptConnector) Driver() driver.Driver { return scriptDriver{sc} }

func (sc *scriptConnector) assertConsumed(t *testing.T) {
	t.Helper()

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.pos != len(sc.steps) {
		t.Fatalf("script stopped at step %d of %d", sc.pos, len(sc.steps))
	}
}

// take 取出下一步并核对类型、SQL 与参数。
func (sc *scriptConnector) take(kind stepKind, query string, args []driver.NamedValue) (mockOperation, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.pos >= len(sc.steps) {
		return mockOperation{}, fmt.Errorf("unscripted %s %q", kind, query)
	}
	step := sc.steps[sc.pos]
	if step.typ != kind {
		return mockOperation{}, fmt.Errorf("step %d: want %s, got %s", sc.pos, step.typ, kind)
	}
	sc.pos++

	if step.query != "" {
		if want, got := compactSQL(step.query), compactSQL(query); want != got {
			return mockOperation{}, fmt.Errorf("step %d: want %q, got %q", sc.pos-1, want, got)
		}
	}
	if step.args != nil {
		if len(step.args) != len(args) {
			return mockOperation{}, fmt.Errorf("step %d: want %d args, got %d", sc.pos-1, len(step.args), len(args))
		}
		for i, want := range step.args {
			if fmt.Sprint(want) != fmt.Sprint(args[i].Value) {
				return mockOperation{}, fmt.Errorf("step %d arg %d: want %v, got %v", sc.pos-1, i, want, args[i].Value)
			}
		}
	}
	return step, step.err
}

type scriptDriver struct{ sc *scriptConnector }

func (d scriptDriver) Open(string) (driver.Conn, error) { return scriptConn(d), nil }

type scriptConn struct{ sc *scriptConnector }

func (c scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c scriptConn) Close() error { return nil }

func (c scriptConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.sc.take(opBegin, "", nil); err != nil {
		return nil, err
	}
	return scriptTx(c), nil
}

func (c scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	step, err := c.sc.take(opExec, query, args)
	if err != nil {
		return nil, err
	}
	return step.result, nil
}

func (c scriptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	step, err := c.sc.take(opQuery, query, args)
	if err != nil {
		return nil, err
	}
	return &scriptRows{data: step.rows}, nil
}

type scriptTx struct{ sc *scriptConnector }

func (tx scriptTx) Commit() error {
	_, err := tx.sc.take(opCommit, "", nil)
	return err
}

func (tx scriptTx) Rollback() error {
	_, err := tx.sc.take(opRollback, "", nil)
	return err
}

type scriptRows struct {
	data mockRowsData
	next int
}

func (r *scriptRows) Columns() []string { return r.data.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.next >= len(r.data.values) {
		return io.EOF
	}
	copy(dest, r.data.values[r.next])
	r.next++
	return nil
}

func compactSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
