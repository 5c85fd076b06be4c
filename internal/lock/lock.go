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

// Package lock provides mutexes with bounded waits and context-carried ownership.
//
// Goroutines have no identity, so ownership is tracked with a [Holder]:
// a token attached to a context by [HolderFrom].
// All calls made with that context (or contexts derived from it) are the same holder,
// which is what makes [Reentrant] reentrant.
package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Infinite is a timeout value that waits until the lock is available.
//
// Any negative timeout has the same meaning.
const Infinite time.Duration = -1

// ErrTimeout is returned when a lock could not be acquired within the timeout.
var ErrTimeout = errors.New("lock timeout exceeded")

// Mutex is implemented by all lock kinds of this package.
type Mutex interface {
	// Lock acquires the lock for h, waiting at most timeout.
	// It returns ErrTimeout or ctx's error on failure; nothing is held then.
	Lock(ctx context.Context, h *Holder, timeout time.Duration) error

	// Unlock releases the lock once.
	Unlock(h *Holder)
}

// Holder identifies a logical call chain.
type Holder struct {
	id uint64
}

// lastHolderID is used to generate Holder IDs.
var lastHolderID atomic.Uint64

// ID returns a process-unique holder ID for logging.
func (h *Holder) ID() uint64 {
	return h.id
}

// holderKey is a named unexported type for the safe use of [context.WithValue].
type holderKey struct{}

// HolderFrom returns the holder attached to ctx.
// If there is none, a new holder is attached to the returned context.
func HolderFrom(ctx context.Context) (context.Context, *Holder) {
	if h, ok := ctx.Value(holderKey{}).(*Holder); ok {
		return ctx, h
	}

	h := &Holder{id: lastHolderID.Add(1)}

	return context.WithValue(ctx, holderKey{}, h), h
}

// acquire acquires a single-weight semaphore, waiting at most timeout.
func acquire(ctx context.Context, sem *semaphore.Weighted, timeout time.Duration) error {
	if timeout == 0 {
		if sem.TryAcquire(1) {
			return nil
		}

		return ErrTimeout
	}

	waitCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)

		defer cancel()
	}

	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return ErrTimeout
	}

	return nil
}
