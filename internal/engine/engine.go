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

// Package engine provides the embedded database engine used by s3m connections.
//
// The engine does not synchronize anything: a Handle and its Cursors must not be used concurrently.
// Making that true is the whole job of the s3m package.
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by all operations on a closed Handle or Cursor.
var ErrClosed = errors.New("cannot operate on a closed database")

// DefaultBusyTimeout is the SQLite busy timeout used when OpenOpts.BusyTimeout is zero.
const DefaultBusyTimeout = 5 * time.Second

// Row is a single result row.
type Row []any

// Handle is a single engine connection.
//
//nolint:interfacebloat // mirrors the engine's connection object
type Handle interface {
	// InTransaction returns true if a transaction is open.
	// It returns ErrClosed if the handle is closed.
	InTransaction(ctx context.Context) (bool, error)

	// Commit commits the current transaction, if any.
	Commit(ctx context.Context) error

	// Rollback rolls back the current transaction, if any.
	Rollback(ctx context.Context) error

	// TotalChanges returns the number of rows changed since the handle was opened.
	TotalChanges(ctx context.Context) (int64, error)

	// Cursor returns a new cursor bound to this handle.
	Cursor() (Cursor, error)

	// Close closes the handle. Subsequent calls are no-ops.
	Close() error
}

// Cursor executes statements and holds their results.
type Cursor interface {
	// Execute executes a single statement and stores its result rows.
	Execute(ctx context.Context, query string, args ...any) error

	// ExecuteMany executes a single statement once per argument set.
	ExecuteMany(ctx context.Context, query string, argSets [][]any) error

	// ExecuteScript executes semicolon-separated statements without arguments.
	ExecuteScript(ctx context.Context, script string) error

	// FetchOne returns the next result row, or nil if there are none.
	FetchOne(ctx context.Context) (Row, error)

	// FetchMany returns up to size next result rows.
	FetchMany(ctx context.Context, size int) ([]Row, error)

	// FetchAll returns all remaining result rows.
	FetchAll(ctx context.Context) ([]Row, error)

	// Close closes the cursor, but not its handle. Subsequent calls are no-ops.
	Close() error
}
