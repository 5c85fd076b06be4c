// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/s3mdb/s3m/internal/util/lazyerrors"
	"github.com/s3mdb/s3m/internal/util/resource"
)

// OpenOpts represents options for Open.
type OpenOpts struct {
	// Driver is one of Drivers(); DefaultDriver if empty.
	Driver string

	// BusyTimeout is how long SQLite retries locked database files; DefaultBusyTimeout if zero.
	BusyTimeout time.Duration

	L *zap.Logger
}

// handle implements Handle on top of a single pinned database/sql connection.
//
//nolint:vet // for readability
type handle struct {
	db   *sql.DB
	conn *sql.Conn
	drv  *driver
	l    *zap.Logger

	closed atomic.Bool

	// transaction status for drivers that can't report it;
	// stale is set after statements that may have changed it
	tx    atomic.Bool
	stale atomic.Bool

	token *resource.Token
}

// Open opens a new handle for the database at the given path.
//
// The path is passed to SQLite as-is; ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, opts *OpenOpts) (Handle, error) {
	if opts == nil {
		opts = new(OpenOpts)
	}

	name := opts.Driver
	if name == "" {
		name = DefaultDriver
	}

	drv := drivers[name]
	if drv == nil {
		return nil, fmt.Errorf("unknown driver %q, expected one of: %s", name, strings.Join(Drivers(), ", "))
	}

	busyTimeout := opts.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	l := opts.L
	if l == nil {
		l = zap.NewNop()
	}

	db, err := sql.Open(name, drv.dsn(path, busyTimeout))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	// a handle is exactly one engine connection;
	// in-memory databases exist only within it
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err == nil {
		if err = conn.PingContext(ctx); err != nil {
			_ = conn.Close()
		}
	}

	if err != nil {
		_ = db.Close()

		if path != ":memory:" && path != "" {
			err = openError(path, err)
		}

		return nil, lazyerrors.Error(err)
	}

	h := &handle{
		db:    db,
		conn:  conn,
		drv:   drv,
		l:     l,
		token: resource.NewToken(),
	}

	resource.Track(h, h.token)

	l.Debug("Handle opened.", zap.String("driver", name), zap.String("path", path))

	return h, nil
}

// convertErr normalizes database/sql errors for closed connections to ErrClosed.
// Other errors are returned unchanged.
func convertErr(err error) error {
	if errors.Is(err, sql.ErrConnDone) {
		return ErrClosed
	}

	return err
}

// query executes a statement and returns all its result rows.
func (h *handle) query(ctx context.Context, query string, args []any) ([]Row, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	h.l.Sugar().With(fields...).Debugf(">>> %s", query)

	var res []Row

	rows, err := h.conn.QueryContext(ctx, query, args...)
	if err == nil {
		res, err = scanAll(rows)
	}

	fields = append(fields, zap.Int("rows", len(res)), zap.Duration("time", time.Since(start)), zap.Error(err))
	h.l.Sugar().With(fields...).Debugf("<<< %s", query)

	h.track(query, err)

	if err != nil {
		return nil, convertErr(err)
	}

	return res, nil
}

// exec executes statements that return no rows.
func (h *handle) exec(ctx context.Context, script string) error {
	if h.closed.Load() {
		return ErrClosed
	}

	start := time.Now()

	h.l.Sugar().Debugf(">>> %s", script)

	_, err := h.conn.ExecContext(ctx, script)

	h.l.Sugar().With(zap.Duration("time", time.Since(start)), zap.Error(err)).Debugf("<<< %s", script)

	h.track(script, err)

	if err != nil {
		return convertErr(err)
	}

	return nil
}

// track marks the transaction status stale after statements that may have changed it.
//
// Any error does that: a script may fail after BEGIN,
// and SQLite rolls back by itself on some errors (e.g. ON CONFLICT ROLLBACK or RAISE(ROLLBACK)).
func (h *handle) track(statements string, err error) {
	if h.drv.inTransaction != nil {
		return
	}

	if err != nil || controlsTransaction(statements) {
		h.stale.Store(true)
	}
}

// readTransaction asks SQLite whether a transaction is open by trying to start one.
//
// A deferred BEGIN takes no database locks, so it is rolled back immediately if it succeeds.
// It is not canceled with ctx: a status left unknown would keep the transaction lock held.
func (h *handle) readTransaction(ctx context.Context) (bool, error) {
	ctx = context.WithoutCancel(ctx)

	var res bool

	_, err := h.conn.ExecContext(ctx, "BEGIN")

	switch {
	case err == nil:
		_, err = h.conn.ExecContext(ctx, "ROLLBACK")
	case strings.Contains(err.Error(), "cannot start a transaction within a transaction"):
		res, err = true, nil
	}

	h.l.Debug("Transaction status read.", zap.Bool("in_transaction", res), zap.Error(err))

	if err != nil {
		return false, convertErr(err)
	}

	return res, nil
}

// scanAll reads and closes rows.
func scanAll(rows *sql.Rows) (res []Row, err error) {
	defer func() {
		if e := rows.Close(); err == nil && e != nil {
			err = e
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		row := make(Row, len(cols))

		dest := make([]any, len(cols))
		for i := range row {
			dest[i] = &row[i]
		}

		if err = rows.Scan(dest...); err != nil {
			return nil, err
		}

		res = append(res, row)
	}

	return res, rows.Err()
}

// InTransaction implements Handle.
func (h *handle) InTransaction(ctx context.Context) (bool, error) {
	if h.closed.Load() {
		return false, ErrClosed
	}

	if h.drv.inTransaction == nil {
		if h.stale.Load() {
			res, err := h.readTransaction(ctx)
			if err != nil {
				return false, err
			}

			h.tx.Store(res)
			h.stale.Store(false)
		}

		return h.tx.Load(), nil
	}

	res, err := h.drv.inTransaction(h.conn)
	if err != nil {
		return false, convertErr(err)
	}

	return res, nil
}

// Commit implements Handle.
func (h *handle) Commit(ctx context.Context) error {
	return h.end(ctx, "COMMIT")
}

// Rollback implements Handle.
func (h *handle) Rollback(ctx context.Context) error {
	return h.end(ctx, "ROLLBACK")
}

// end executes COMMIT or ROLLBACK if a transaction is open.
func (h *handle) end(ctx context.Context, statement string) error {
	inTx, err := h.InTransaction(ctx)
	if err != nil {
		return err
	}

	if !inTx {
		return nil
	}

	_, err = h.query(ctx, statement, nil)

	return err
}

// TotalChanges implements Handle.
func (h *handle) TotalChanges(ctx context.Context) (int64, error) {
	rows, err := h.query(ctx, "SELECT total_changes()", nil)
	if err != nil {
		return 0, err
	}

	if len(rows) != 1 || len(rows[0]) != 1 {
		return 0, lazyerrors.Errorf("unexpected total_changes() result: %v", rows)
	}

	n, ok := rows[0][0].(int64)
	if !ok {
		return 0, lazyerrors.Errorf("unexpected total_changes() type %T", rows[0][0])
	}

	return n, nil
}

// Cursor implements Handle.
func (h *handle) Cursor() (Cursor, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}

	return &cursor{h: h}, nil
}

// Close implements Handle.
func (h *handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	resource.Untrack(h, h.token)

	err := h.conn.Close()
	if e := h.db.Close(); err == nil {
		err = e
	}

	h.l.Debug("Handle closed.")

	if err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// check interfaces
var (
	_ Handle = (*handle)(nil)
)
