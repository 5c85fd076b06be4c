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
	"sync/atomic"
)

// cursor implements Cursor.
//
// Result rows are read from the engine as soon as the statement is executed,
// so no engine statement stays open between calls.
type cursor struct {
	h *handle

	closed atomic.Bool

	rows []Row
	pos  int
}

// check returns ErrClosed if the cursor or its handle is closed.
func (c *cursor) check() error {
	if c.closed.Load() || c.h.closed.Load() {
		return ErrClosed
	}

	return nil
}

// reset sets the current result.
func (c *cursor) reset(rows []Row) {
	c.rows = rows
	c.pos = 0
}

// Execute implements Cursor.
func (c *cursor) Execute(ctx context.Context, query string, args ...any) error {
	if err := c.check(); err != nil {
		return err
	}

	c.reset(nil)

	rows, err := c.h.query(ctx, query, args)
	if err != nil {
		return err
	}

	c.reset(rows)

	return nil
}

// ExecuteMany implements Cursor.
func (c *cursor) ExecuteMany(ctx context.Context, query string, argSets [][]any) error {
	if err := c.check(); err != nil {
		return err
	}

	c.reset(nil)

	for _, args := range argSets {
		if _, err := c.h.query(ctx, query, args); err != nil {
			return err
		}
	}

	return nil
}

// ExecuteScript implements Cursor.
func (c *cursor) ExecuteScript(ctx context.Context, script string) error {
	if err := c.check(); err != nil {
		return err
	}

	c.reset(nil)

	return c.h.exec(ctx, script)
}

// FetchOne implements Cursor.
func (c *cursor) FetchOne(context.Context) (Row, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	if c.pos >= len(c.rows) {
		return nil, nil
	}

	row := c.rows[c.pos]
	c.pos++

	return row, nil
}

// FetchMany implements Cursor.
func (c *cursor) FetchMany(_ context.Context, size int) ([]Row, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	end := min(c.pos+max(size, 0), len(c.rows))
	res := c.rows[c.pos:end:end]
	c.pos = end

	return res, nil
}

// FetchAll implements Cursor.
func (c *cursor) FetchAll(ctx context.Context) ([]Row, error) {
	return c.FetchMany(ctx, len(c.rows))
}

// Close implements Cursor.
func (c *cursor) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.reset(nil)
	}

	return nil
}

// check interfaces
var (
	_ Cursor = (*cursor)(nil)
)
