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

package lock

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Exclusive is a non-reentrant mutex.
//
// It is not owned by a goroutine or a holder:
// it may be unlocked by a call chain other than the one that locked it.
// A second Lock by the same holder waits like any other.
type Exclusive struct {
	sem *semaphore.Weighted
}

// NewExclusive returns a new unlocked Exclusive mutex.
func NewExclusive() *Exclusive {
	return &Exclusive{
		sem: semaphore.NewWeighted(1),
	}
}

// Lock implements Mutex.
func (e *Exclusive) Lock(ctx context.Context, _ *Holder, timeout time.Duration) error {
	return acquire(ctx, e.sem, timeout)
}

// Unlock implements Mutex.
func (e *Exclusive) Unlock(*Holder) {
	e.sem.Release(1)
}

// Noop is a mutex that is always acquired immediately.
//
// It is used for databases that can't be shared, such as in-memory ones.
type Noop struct{}

// Lock implements Mutex.
func (Noop) Lock(context.Context, *Holder, time.Duration) error {
	return nil
}

// Unlock implements Mutex.
func (Noop) Unlock(*Holder) {}

// check interfaces
var (
	_ Mutex = (*Exclusive)(nil)
	_ Mutex = Noop{}
)
