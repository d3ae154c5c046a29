package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stepKind int

const (
	kindQuery stepKind = iota
	kindExec
)

// scriptStep is one expected statement. A nil args slice skips argument
// matching for the step.
type scriptStep struct {
	kind    stepKind
	pattern *regexp.Regexp
	args    []driver.Value
	columns []string
	rows    [][]driver.Value
	err     error
	result  driver.Result
}

type scriptState struct {
	mu    sync.Mutex
	steps []*scriptStep
}

func (s *scriptState) next(kind stepKind, query string, args []driver.NamedValue) (*scriptStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return nil, fmt.Errorf("unexpected statement: %s", query)
	}
	step := s.steps[0]
	if step.kind != kind {
		return nil, fmt.Errorf("unexpected kind for %s: got %v want %v", query, kind, step.kind)
	}
	if !step.pattern.MatchString(query) {
		return nil, fmt.Errorf("statement %q did not match %q", query, step.pattern)
	}
	if step.args != nil {
		if len(step.args) != len(args) {
			return nil, fmt.Errorf("unexpected arg count for %s: got %d want %d", query, len(args), len(step.args))
		}
		for i := range args {
			if args[i].Value != step.args[i] {
				return nil, fmt.Errorf("unexpected arg %d for %s: got %v want %v", i, query, args[i].Value, step.args[i])
			}
		}
	}
	s.steps = s.steps[1:]
	return step, nil
}

func (s *scriptState) verifyComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) != 0 {
		return fmt.Errorf("unmet expectations: %d", len(s.steps))
	}
	return nil
}

type scriptDriver struct {
	state *scriptState
}

func (d *scriptDriver) Open(string) (driver.Conn, error) {
	return &scriptConn{state: d.state}, nil
}

type scriptConn struct {
	state *scriptState
}

func (c *scriptConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *scriptConn) Close() error { return nil }

// Begin hands out a no-op transaction so GORM's default wrapping works.
func (c *scriptConn) Begin() (driver.Tx, error) { return noopTx{}, nil }

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

func (c *scriptConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	step, err := c.state.next(kindQuery, query, args)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if step.err != nil {
		return nil, step.err
	}
	return &scriptRows{columns: step.columns, rows: step.rows}, nil
}

func (c *scriptConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, namedValues(args))
}

func (c *scriptConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	step, err := c.state.next(kindExec, query, args)
	if err != nil {
		return nil, err
	}
	if step.err != nil {
		return nil, step.err
	}
	if step.result != nil {
		return step.result, nil
	}
	return execResult{}, nil
}

func (c *scriptConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, namedValues(args))
}

func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

type execResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r execResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }

func (r execResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type scriptRows struct {
	columns []string
	rows    [][]driver.Value
	idx     int
}

func (r *scriptRows) Columns() []string { return r.columns }

func (r *scriptRows) Close() error { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	row := r.rows[r.idx]
	for i := range dest {
		dest[i] = nil
	}
	for i := range row {
		dest[i] = row[i]
	}
	r.idx++
	return nil
}

// newScriptedDB opens a GORM handle backed by the scripted step list.
func newScriptedDB(t *testing.T, steps []*scriptStep) (*gorm.DB, *scriptState, func()) {
	t.Helper()
	state := &scriptState{steps: steps}
	driverName := fmt.Sprintf("scripted_%d", time.Now().UnixNano())
	sql.Register(driverName, &scriptDriver{state: state})

	sqlDB, err := sql.Open(driverName, "")
	if err != nil {
		t.Fatalf("failed to open sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create gorm db: %v", err)
	}

	cleanup := func() {
		_ = sqlDB.Close()
	}
	return gormDB, state, cleanup
}

// submissionColumns matches the submissions table column order used by the
// scripted SELECT steps.
var submissionColumns = []string{
	"id", "submission_id", "exam_id", "student_uniqname",
	"submitted_timestamp", "graded_timestamp", "score",
	"transmitted", "transmitted_timestamp",
}
