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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/s3mdb/s3m/internal/engine"
)

func TestErrors(t *testing.T) {
	t.Parallel()

	var err error = &LockTimeoutError{
		ConnID:  uuid.New(),
		Path:    "/tmp/test.db",
		Lock:    OperationLock,
		Timeout: 1500 * time.Millisecond,
	}

	assert.Equal(t, "lock timeout exceeded (> 1.5s)", err.Error())
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.NotErrorIs(t, err, ErrMisuse)

	err = &MisuseError{Op: "Release", Reason: "not acquired"}
	assert.Equal(t, "Release: not acquired", err.Error())
	assert.ErrorIs(t, err, ErrMisuse)
	assert.NotErrorIs(t, err, ErrLockTimeout)

	assert.Same(t, engine.ErrClosed, ErrClosed)
	assert.True(t, errors.Is(engine.ErrClosed, ErrClosed))
}
