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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/s3mdb/s3m/internal/engine"
)

// LockKind identifies one of the three locks taken by a bracket.
type LockKind string

// Lock kinds, in acquisition order.
const (
	PersonalLock    LockKind = "personal"
	TransactionLock LockKind = "transaction"
	OperationLock   LockKind = "operation"
)

var (
	// ErrLockTimeout matches all *LockTimeoutError values with [errors.Is].
	ErrLockTimeout = errors.New("lock timeout exceeded")

	// ErrMisuse matches all *MisuseError values with [errors.Is].
	ErrMisuse = errors.New("misuse")

	// ErrClosed is returned by operations on a closed connection or cursor.
	ErrClosed = engine.ErrClosed

	// ErrRegistryClosed is returned by Connect after the registry was closed.
	ErrRegistryClosed = errors.New("registry is closed")

	// ErrConnectionGone is returned by cursor operations after its connection was garbage collected.
	ErrConnectionGone = errors.New("cursor's connection no longer exists")
)

// LockTimeoutError is returned when a lock could not be acquired within the connection's lock timeout.
//
// Nothing acquired by the failed call is held after it is returned.
type LockTimeoutError struct {
	ConnID  uuid.UUID
	Path    string
	Lock    LockKind
	Timeout time.Duration
}

// Error implements error interface.
func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout exceeded (> %s)", e.Timeout)
}

// Is makes errors.Is(err, ErrLockTimeout) work.
func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// MisuseError is returned when an operation is invoked outside of the mode it requires.
type MisuseError struct {
	Op     string
	Reason string
}

// Error implements error interface.
func (e *MisuseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Is makes errors.Is(err, ErrMisuse) work.
func (e *MisuseError) Is(target error) bool {
	return target == ErrMisuse
}

// check interfaces
var (
	_ error = (*LockTimeoutError)(nil)
	_ error = (*MisuseError)(nil)
)
