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
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/s3mdb/s3m/internal/engine"
	"github.com/s3mdb/s3m/internal/lock"
	"github.com/s3mdb/s3m/internal/util/lazyerrors"
	"github.com/s3mdb/s3m/internal/util/observability"
	"github.com/s3mdb/s3m/internal/util/resource"
)

// NoTimeout is a lock timeout value that waits for locks forever.
const NoTimeout = lock.Infinite

// DefaultFetchManySize is the batch size used by FetchMany when size is not positive.
const DefaultFetchManySize = 1000

// Row is a single result row; values are converted by the engine driver.
type Row = engine.Row

// Drivers returns a sorted list of supported engine driver names.
func Drivers() []string {
	return engine.Drivers()
}

// ConnectOpts represents options for Registry.Connect.
type ConnectOpts struct {
	// LockTransactions blocks concurrent transactions of connections to the same path.
	// If nil, true is used.
	LockTransactions *bool

	// LockTimeout limits every lock wait:
	// zero means a single attempt, NoTimeout (or any negative value) means no limit.
	// If nil, NoTimeout is used.
	LockTimeout *time.Duration

	// Engine options.
	Driver      string
	BusyTimeout time.Duration

	// L is the connection's logger; if nil, the registry's logger is used.
	L *zap.Logger
}

// Conn is a database connection that may be shared by many goroutines.
//
// Every operation that touches the engine is a bracket:
// it acquires the connection's own reentrant lock, the transaction lock of the path (unless disabled),
// and the operation lock of the path, calls the engine, and releases the locks.
// The transaction lock is kept from the bracket that started a transaction
// until the bracket that observed its end.
//
// Reentrancy is tracked by a holder attached to the context.
// A context returned by Acquire, or passed to the function given to With,
// may be used for nested brackets on the same connection.
//
//nolint:vet // for readability
type Conn struct {
	r     *Registry
	state *sharedState
	id    uuid.UUID
	l     *zap.Logger

	lockTransactions bool
	lockTimeout      time.Duration

	personal *lock.Reentrant

	// protected by personal
	withCount        int
	wasInTransaction bool

	closed atomic.Bool

	res     *connResources
	cleanup runtime.Cleanup
	token   *resource.Token
}

// connResources are released when the connection is closed or garbage collected.
//
// They must not reference the connection.
type connResources struct {
	r     *Registry
	state *sharedState
	id    uuid.UUID
	l     *zap.Logger

	h engine.Handle
	c engine.Cursor
}

// release releases the transaction lock if it is held by the connection,
// closes the engine handle, and drops the registry reference.
func (res *connResources) release() error {
	if res.state.isActive(res.id) {
		res.state.releaseTx(nil)
		res.l.Debug("Transaction lock released on close.")
	}

	err := res.c.Close()
	if e := res.h.Close(); err == nil {
		err = e
	}

	res.r.release(res.state)
	res.r.conns.Add(-1)

	return err
}

// collected is called by the runtime when a connection becomes unreachable without Close.
func collected(res *connResources) {
	if err := res.release(); err != nil {
		res.l.Warn("Failed to release resources of garbage collected connection.", zap.Error(err))
		return
	}

	res.l.Debug("Resources of garbage collected connection released.")
}

// Connect opens a new connection to the database at the given path.
//
// Connections to the same file share lock state, even if they use different paths for it.
// Connections to [MemoryPath] never block each other.
func (r *Registry) Connect(ctx context.Context, path string, opts *ConnectOpts) (*Conn, error) {
	if opts == nil {
		opts = new(ConnectOpts)
	}

	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	id := uuid.New()

	l := opts.L
	if l == nil {
		l = r.l
	}

	l = l.Named("conn").With(zap.String("conn", id.String()), zap.String("path", key))

	exists := pathExists(key)

	h, err := engine.Open(ctx, key, &engine.OpenOpts{
		Driver:      opts.Driver,
		BusyTimeout: opts.BusyTimeout,
		L:           l,
	})
	if err != nil {
		return nil, err
	}

	c, err := h.Cursor()
	if err != nil {
		_ = h.Close()
		return nil, lazyerrors.Error(err)
	}

	state, err := r.getOrCreate(key)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	r.conns.Add(1)

	lockTimeout := NoTimeout
	if opts.LockTimeout != nil {
		lockTimeout = *opts.LockTimeout
	}

	if lockTimeout < 0 {
		lockTimeout = NoTimeout
	}

	lockTransactions := true
	if opts.LockTransactions != nil {
		lockTransactions = *opts.LockTransactions
	}

	conn := &Conn{
		r:                r,
		state:            state,
		id:               id,
		l:                l,
		lockTransactions: lockTransactions,
		lockTimeout:      lockTimeout,
		personal:         lock.NewReentrant(),
		res: &connResources{
			r:     r,
			state: state,
			id:    id,
			l:     l,
			h:     h,
			c:     c,
		},
		token: resource.NewToken(),
	}

	conn.cleanup = runtime.AddCleanup(conn, collected, conn.res)
	resource.Track(conn, conn.token)

	l.Debug(
		"Connection opened.",
		zap.Bool("exists", exists),
		zap.Bool("lock_transactions", lockTransactions),
		zap.Duration("lock_timeout", lockTimeout),
	)

	return conn, nil
}

// ID returns the unique connection ID.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// Path returns the normalized database path.
func (c *Conn) Path() string {
	return c.state.path
}

// LockTimeout returns the lock timeout; negative values mean no timeout.
func (c *Conn) LockTimeout() time.Duration {
	return c.lockTimeout
}

// LockTransactions returns true if concurrent transactions on the same path are blocked by default.
func (c *Conn) LockTransactions() bool {
	return c.lockTransactions
}

// Closed returns true if the connection was closed.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// lock acquires m with the connection's timeout, converting timeouts to *LockTimeoutError.
func (c *Conn) lock(ctx context.Context, h *lock.Holder, m lock.Mutex, kind LockKind) error {
	start := time.Now()
	err := m.Lock(ctx, h, c.lockTimeout)
	c.r.m.observe(kind, time.Since(start), err)

	if err == nil {
		return nil
	}

	if !errors.Is(err, lock.ErrTimeout) {
		return err
	}

	c.l.Warn("Lock timeout exceeded.", zap.String("lock", string(kind)), zap.Duration("timeout", c.lockTimeout))

	return &LockTimeoutError{
		ConnID:  c.id,
		Path:    c.state.path,
		Lock:    kind,
		Timeout: c.lockTimeout,
	}
}

// inTransaction returns the engine's transaction status; a closed handle is not in a transaction.
func (c *Conn) inTransaction(ctx context.Context) (bool, error) {
	inTx, err := c.res.h.InTransaction(ctx)
	if errors.Is(err, engine.ErrClosed) {
		return false, nil
	}

	return inTx, err
}

// lockTx returns the transaction locking policy for a bracket.
func (c *Conn) lockTx(lockTransactions *bool) bool {
	if lockTransactions == nil {
		return c.lockTransactions
	}

	return *lockTransactions
}

// Acquire opens a bracket on the connection.
//
// If lockTransactions is nil, the connection's default is used.
// The returned context carries the holder of the bracket;
// it must be passed to the matching Release and may be used for nested brackets.
// On error, nothing acquired by the call is held.
func (c *Conn) Acquire(ctx context.Context, lockTransactions *bool) (context.Context, error) {
	ctx, h := lock.HolderFrom(ctx)

	if err := c.lock(ctx, h, c.personal, PersonalLock); err != nil {
		return ctx, err
	}

	if c.closed.Load() {
		c.personal.Unlock(h)
		return ctx, ErrClosed
	}

	c.withCount++

	var tookTx bool

	if c.lockTx(lockTransactions) && !c.state.isActive(c.id) {
		if err := c.lock(ctx, h, c.state.tx, TransactionLock); err != nil {
			c.withCount--
			c.personal.Unlock(h)

			return ctx, err
		}

		c.state.setActive(c.id)
		tookTx = true

		c.l.Debug("Transaction lock acquired.", zap.Uint64("holder", h.ID()))
	}

	undo := func() {
		c.withCount--

		if tookTx {
			c.state.releaseTx(h)
			c.l.Debug("Transaction lock released.", zap.Uint64("holder", h.ID()))
		}

		c.personal.Unlock(h)
	}

	if err := c.lock(ctx, h, c.state.op, OperationLock); err != nil {
		undo()
		return ctx, err
	}

	inTx, err := c.inTransaction(ctx)
	if err != nil {
		c.state.op.Unlock(h)
		undo()

		return ctx, lazyerrors.Error(err)
	}

	c.wasInTransaction = inTx

	return ctx, nil
}

// Release closes the innermost bracket opened by Acquire with the same holder.
//
// The transaction lock is released only when the outermost bracket exits
// and the connection is not in a transaction.
// The operation lock and then the connection's lock are always released.
func (c *Conn) Release(ctx context.Context, lockTransactions *bool) error {
	_, h := lock.HolderFrom(ctx)

	if !c.personal.HeldBy(h) {
		return &MisuseError{Op: "Release", Reason: "no matching Acquire for this context"}
	}

	c.withCount--

	defer c.personal.Unlock(h)

	if !c.lockTx(lockTransactions) {
		c.state.op.Unlock(h)
		return nil
	}

	inTx, err := c.inTransaction(ctx)

	if err == nil && !inTx && c.withCount == 0 && c.state.isActive(c.id) {
		c.state.releaseTx(h)

		if c.wasInTransaction {
			c.l.Debug("Transaction finished, transaction lock released.", zap.Uint64("holder", h.ID()))
		} else {
			c.l.Debug("Transaction lock released.", zap.Uint64("holder", h.ID()))
		}
	}

	c.state.op.Unlock(h)

	if err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// bracket calls f between Acquire and Release.
func (c *Conn) bracket(ctx context.Context, lockTransactions *bool, op string, f func(context.Context) error) (err error) {
	defer observability.FuncCall(ctx)()

	ctx, span := otel.Tracer("").Start(ctx, op, trace.WithAttributes(
		attribute.String("s3m.path", c.state.path),
		attribute.String("s3m.conn", c.id.String()),
	))

	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	if ctx, err = c.Acquire(ctx, lockTransactions); err != nil {
		return err
	}

	defer func() {
		if e := c.Release(ctx, lockTransactions); err == nil {
			err = e
		}
	}()

	return f(ctx)
}

// With calls f inside a single bracket.
//
// Calls made by f with the given context are nested brackets,
// so no other goroutine can use the connection until f returns,
// and, with transaction locking, no other connection can start a transaction on the same path.
func (c *Conn) With(ctx context.Context, f func(ctx context.Context) error) error {
	return c.bracket(ctx, nil, "With", f)
}

// Execute executes a single statement.
// Its result rows are available through Fetch methods.
func (c *Conn) Execute(ctx context.Context, query string, args ...any) (*Conn, error) {
	err := c.bracket(ctx, nil, "Execute", func(ctx context.Context) error {
		return c.res.c.Execute(ctx, query, args...)
	})

	return c, err
}

// ExecuteMany executes a single statement once for each set of arguments.
func (c *Conn) ExecuteMany(ctx context.Context, query string, argSets [][]any) (*Conn, error) {
	err := c.bracket(ctx, nil, "ExecuteMany", func(ctx context.Context) error {
		return c.res.c.ExecuteMany(ctx, query, argSets)
	})

	return c, err
}

// ExecuteScript executes semicolon-separated statements without arguments.
func (c *Conn) ExecuteScript(ctx context.Context, script string) (*Conn, error) {
	err := c.bracket(ctx, nil, "ExecuteScript", func(ctx context.Context) error {
		return c.res.c.ExecuteScript(ctx, script)
	})

	return c, err
}

// Commit commits the current transaction, if any.
func (c *Conn) Commit(ctx context.Context) error {
	return c.bracket(ctx, nil, "Commit", c.res.h.Commit)
}

// Rollback rolls back the current transaction, if any.
func (c *Conn) Rollback(ctx context.Context) error {
	return c.bracket(ctx, nil, "Rollback", c.res.h.Rollback)
}

// FetchOne returns the next result row of the last executed statement, or nil if there are none.
func (c *Conn) FetchOne(ctx context.Context) (Row, error) {
	var res Row

	err := c.bracket(ctx, nil, "FetchOne", func(ctx context.Context) error {
		var err error
		res, err = c.res.c.FetchOne(ctx)

		return err
	})

	return res, err
}

// FetchMany returns up to size next result rows; DefaultFetchManySize is used if size is not positive.
func (c *Conn) FetchMany(ctx context.Context, size int) ([]Row, error) {
	if size <= 0 {
		size = DefaultFetchManySize
	}

	var res []Row

	err := c.bracket(ctx, nil, "FetchMany", func(ctx context.Context) error {
		var err error
		res, err = c.res.c.FetchMany(ctx, size)

		return err
	})

	return res, err
}

// FetchAll returns all remaining result rows.
func (c *Conn) FetchAll(ctx context.Context) ([]Row, error) {
	var res []Row

	err := c.bracket(ctx, nil, "FetchAll", func(ctx context.Context) error {
		var err error
		res, err = c.res.c.FetchAll(ctx)

		return err
	})

	return res, err
}

// InTransaction returns true if the connection has an open transaction.
//
// It does not wait for the transaction lock.
func (c *Conn) InTransaction(ctx context.Context) (bool, error) {
	var res bool

	err := c.bracket(ctx, pointer.ToBool(false), "InTransaction", func(ctx context.Context) error {
		var err error
		res, err = c.res.h.InTransaction(ctx)

		return err
	})

	return res, err
}

// TotalChanges returns the number of rows changed by the connection since it was opened.
//
// It does not wait for the transaction lock.
func (c *Conn) TotalChanges(ctx context.Context) (int64, error) {
	var res int64

	err := c.bracket(ctx, pointer.ToBool(false), "TotalChanges", func(ctx context.Context) error {
		var err error
		res, err = c.res.h.TotalChanges(ctx)

		return err
	})

	return res, err
}

// Cursor returns a new cursor.
//
// The cursor uses the connection's locks; it does not keep the connection alive.
func (c *Conn) Cursor(ctx context.Context) (*Cursor, error) {
	var res *Cursor

	err := c.bracket(ctx, pointer.ToBool(false), "Cursor", func(context.Context) error {
		ec, err := c.res.h.Cursor()
		if err != nil {
			return err
		}

		res = newCursor(c, ec)

		return nil
	})

	return res, err
}

// Close closes the connection.
//
// It waits for in-flight operations of other goroutines, bounded by the lock timeout.
// If the connection holds the transaction lock, it is released;
// the engine rolls back the open transaction.
// Subsequent operations return ErrClosed. Close of a closed connection is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}

	ctx, h := lock.HolderFrom(ctx)

	if err := c.lock(ctx, h, c.personal, PersonalLock); err != nil {
		return err
	}

	defer c.personal.Unlock(h)

	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.cleanup.Stop()
	resource.Untrack(c, c.token)

	err := c.res.release()

	c.l.Debug("Connection closed.")

	if err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}
