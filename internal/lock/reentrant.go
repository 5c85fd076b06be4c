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
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Reentrant is a mutex that may be locked again by its current holder.
//
// Each Lock must be paired with an Unlock by the same holder.
type Reentrant struct {
	sem *semaphore.Weighted

	m     sync.Mutex
	owner *Holder
	depth int
}

// NewReentrant returns a new unlocked Reentrant mutex.
func NewReentrant() *Reentrant {
	return &Reentrant{
		sem: semaphore.NewWeighted(1),
	}
}

// Lock implements Mutex.
func (r *Reentrant) Lock(ctx context.Context, h *Holder, timeout time.Duration) error {
	r.m.Lock()
	if r.owner == h {
		r.depth++
		r.m.Unlock()

		return nil
	}
	r.m.Unlock()

	if err := acquire(ctx, r.sem, timeout); err != nil {
		return err
	}

	r.m.Lock()
	r.owner = h
	r.depth = 1
	r.m.Unlock()

	return nil
}

// Unlock implements Mutex.
//
// It panics if h is not the current holder.
func (r *Reentrant) Unlock(h *Holder) {
	r.m.Lock()
	defer r.m.Unlock()

	if r.owner != h || r.depth == 0 {
		panic("lock.Reentrant: unlock by non-holder")
	}

	r.depth--
	if r.depth > 0 {
		return
	}

	r.owner = nil
	r.sem.Release(1)
}

// HeldBy returns true if h currently holds the mutex.
func (r *Reentrant) HeldBy(h *Holder) bool {
	r.m.Lock()
	defer r.m.Unlock()

	return r.owner == h && r.depth > 0
}

// Depth returns how many times the current holder locked the mutex.
func (r *Reentrant) Depth() int {
	r.m.Lock()
	defer r.m.Unlock()

	return r.depth
}

// check interfaces
var (
	_ Mutex = (*Reentrant)(nil)
)
