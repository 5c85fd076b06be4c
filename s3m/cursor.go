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

package s3m

import (
	"context"
	"sync/atomic"
	"weak"

	"github.com/s3mdb/s3m/internal/engine"
)

// Cursor executes statements through its connection's locks with its own result set.
//
// It does not keep the connection alive:
// once the connection is garbage collected, all operations return ErrConnectionGone.
// Closing a cursor does not close the connection.
type Cursor struct {
	conn   weak.Pointer[Conn]
	c      engine.Cursor
	closed atomic.Bool
}

// newCursor returns a new cursor for the given connection and engine cursor.
func newCursor(conn *Conn, c engine.Cursor) *Cursor {
	return &Cursor{
		conn: weak.Make(conn),
		c:    c,
	}
}

// bracket calls f inside a bracket of the cursor's connection.
func (cur *Cursor) bracket(ctx context.Context, op string, f func(context.Context) error) error {
	if cur.closed.Load() {
		return ErrClosed
	}

	conn := cur.conn.Value()
	if conn == nil {
		return ErrConnectionGone
	}

	return conn.bracket(ctx, nil, "Cursor."+op, func(ctx context.Context) error {
		if cur.closed.Load() {
			return ErrClosed
		}

		return f(ctx)
	})
}

// Conn returns the cursor's connection, or nil if it was garbage collected.
func (cur *Cursor) Conn() *Conn {
	return cur.conn.Value()
}

// Execute executes a single statement.
func (cur *Cursor) Execute(ctx context.Context, query string, args ...any) (*Cursor, error) {
	err := cur.bracket(ctx, "Execute", func(ctx context.Context) error {
		return cur.c.Execute(ctx, query, args...)
	})

	return cur, err
}

// ExecuteMany executes a single statement once for each set of arguments.
func (cur *Cursor) ExecuteMany(ctx context.Context, query string, argSets [][]any) (*Cursor, error) {
	err := cur.bracket(ctx, "ExecuteMany", func(ctx context.Context) error {
		return cur.c.ExecuteMany(ctx, query, argSets)
	})

	return cur, err
}

// ExecuteScript executes semicolon-separated statements without arguments.
func (cur *Cursor) ExecuteScript(ctx context.Context, script string) (*Cursor, error) {
	err := cur.bracket(ctx, "ExecuteScript", func(ctx context.Context) error {
		return cur.c.ExecuteScript(ctx, script)
	})

	return cur, err
}

// FetchOne returns the next result row, or nil if there are none.
func (cur *Cursor) FetchOne(ctx context.Context) (Row, error) {
	var res Row

	err := cur.bracket(ctx, "FetchOne", func(ctx context.Context) error {
		var err error
		res, err = cur.c.FetchOne(ctx)

		return err
	})

	return res, err
}

// FetchMany returns up to size next result rows; DefaultFetchManySize is used if size is not positive.
func (cur *Cursor) FetchMany(ctx context.Context, size int) ([]Row, error) {
	if size <= 0 {
		size = DefaultFetchManySize
	}

	var res []Row

	err := cur.bracket(ctx, "FetchMany", func(ctx context.Context) error {
		var err error
		res, err = cur.c.FetchMany(ctx, size)

		return err
	})

	return res, err
}

// FetchAll returns all remaining result rows.
func (cur *Cursor) FetchAll(ctx context.Context) ([]Row, error) {
	var res []Row

	err := cur.bracket(ctx, "FetchAll", func(ctx context.Context) error {
		var err error
		res, err = cur.c.FetchAll(ctx)

		return err
	})

	return res, err
}

// Close closes the cursor. Subsequent calls are no-ops.
func (cur *Cursor) Close() error {
	if !cur.closed.CompareAndSwap(false, true) {
		return nil
	}

	return cur.c.Close()
}
