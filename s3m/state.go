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
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/s3mdb/s3m/internal/lock"
)

// sharedState is the lock state shared by all connections to the same database path.
type sharedState struct {
	path   string
	memory bool

	// op serializes calls into engine handles of this path
	op lock.Mutex

	// tx is held by the active connection for the whole duration of its transaction
	tx lock.Mutex

	// active is the ID of the connection holding tx, uuid.Nil if none;
	// only tx holder writes it
	active atomic.Value

	// protected by Registry.rw
	refs int
}

// newSharedState returns a new state for the given normalized path.
//
// In-memory databases can't be shared, so their states use no-op locks.
func newSharedState(path string) *sharedState {
	s := &sharedState{
		path:   path,
		memory: path == MemoryPath,
	}

	if s.memory {
		s.op = lock.Noop{}
		s.tx = lock.Noop{}
	} else {
		s.op = lock.NewReentrant()
		s.tx = lock.NewExclusive()
	}

	s.active.Store(uuid.Nil)

	return s
}

// activeConn returns the ID of the connection holding the transaction lock, or uuid.Nil.
func (s *sharedState) activeConn() uuid.UUID {
	return s.active.Load().(uuid.UUID)
}

// isActive returns true if the connection with the given ID holds the transaction lock.
func (s *sharedState) isActive(id uuid.UUID) bool {
	return s.activeConn() == id
}

// setActive records the connection that acquired the transaction lock.
func (s *sharedState) setActive(id uuid.UUID) {
	s.active.Store(id)
}

// releaseTx clears the active connection and releases the transaction lock.
// The caller must be the active connection.
func (s *sharedState) releaseTx(h *lock.Holder) {
	s.active.Store(uuid.Nil)
	s.tx.Unlock(h)
}
