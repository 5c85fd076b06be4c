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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3mdb/s3m/internal/util/testutil"
	"github.com/s3mdb/s3m/internal/util/testutil/teststress"
)

func TestHolderFrom(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	ctx1, h1 := HolderFrom(ctx)
	require.NotNil(t, h1)
	assert.NotZero(t, h1.ID())

	_, same := HolderFrom(ctx1)
	assert.Same(t, h1, same)

	// derived contexts keep the holder
	derived, cancel := context.WithCancel(ctx1)
	t.Cleanup(cancel)

	_, same = HolderFrom(derived)
	assert.Same(t, h1, same)

	_, h2 := HolderFrom(ctx)
	assert.NotSame(t, h1, h2)
	assert.NotEqual(t, h1.ID(), h2.ID())
}

func TestReentrant(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	_, h1 := HolderFrom(ctx)
	_, h2 := HolderFrom(ctx)

	r := NewReentrant()

	require.NoError(t, r.Lock(ctx, h1, Infinite))
	require.NoError(t, r.Lock(ctx, h1, 0))
	assert.Equal(t, 2, r.Depth())
	assert.True(t, r.HeldBy(h1))
	assert.False(t, r.HeldBy(h2))

	assert.ErrorIs(t, r.Lock(ctx, h2, 0), ErrTimeout)

	start := time.Now()
	assert.ErrorIs(t, r.Lock(ctx, h2, 20*time.Millisecond), ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	r.Unlock(h1)
	assert.True(t, r.HeldBy(h1), "outer lock must still be held")
	assert.ErrorIs(t, r.Lock(ctx, h2, 0), ErrTimeout)

	r.Unlock(h1)
	assert.False(t, r.HeldBy(h1))

	require.NoError(t, r.Lock(ctx, h2, 0))
	assert.Panics(t, func() { r.Unlock(h1) })
	r.Unlock(h2)

	assert.Panics(t, func() { r.Unlock(h2) })
}

func TestReentrantWaits(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	_, h1 := HolderFrom(ctx)
	_, h2 := HolderFrom(ctx)

	r := NewReentrant()
	require.NoError(t, r.Lock(ctx, h1, Infinite))

	done := make(chan error)

	go func() {
		done <- r.Lock(ctx, h2, time.Minute)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Unlock(h1)

	require.NoError(t, <-done)
	assert.True(t, r.HeldBy(h2))
	r.Unlock(h2)
}

func TestCanceled(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	_, h1 := HolderFrom(ctx)
	_, h2 := HolderFrom(ctx)

	for name, m := range map[string]Mutex{
		"Reentrant": NewReentrant(),
		"Exclusive": NewExclusive(),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.NoError(t, m.Lock(ctx, h1, Infinite))
			t.Cleanup(func() { m.Unlock(h1) })

			canceledCtx, cancel := context.WithCancel(ctx)
			cancel()

			err := m.Lock(canceledCtx, h2, Infinite)
			assert.ErrorIs(t, err, context.Canceled)
			assert.NotErrorIs(t, err, ErrTimeout)
		})
	}
}

func TestExclusive(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	_, h := HolderFrom(ctx)

	e := NewExclusive()

	require.NoError(t, e.Lock(ctx, h, 0))

	// not reentrant
	assert.ErrorIs(t, e.Lock(ctx, h, 10*time.Millisecond), ErrTimeout)

	// may be unlocked by another holder
	_, other := HolderFrom(ctx)
	e.Unlock(other)

	require.NoError(t, e.Lock(ctx, h, 0))
	e.Unlock(h)

	assert.Panics(t, func() { e.Unlock(h) })
}

func TestNoop(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	_, h1 := HolderFrom(ctx)
	_, h2 := HolderFrom(ctx)

	var n Noop

	require.NoError(t, n.Lock(ctx, h1, 0))
	require.NoError(t, n.Lock(ctx, h2, 0))
	n.Unlock(h1)
	n.Unlock(h2)
	n.Unlock(h2)
}

func TestReentrantStress(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	r := NewReentrant()

	var inside atomic.Int32
	var mu sync.Mutex
	var total int

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		hctx, h := HolderFrom(ctx)

		ready <- struct{}{}
		<-start

		for i := 0; i < 20; i++ {
			require.NoError(t, r.Lock(hctx, h, Infinite))
			require.NoError(t, r.Lock(hctx, h, 0))

			assert.Equal(t, int32(1), inside.Add(1))

			mu.Lock()
			total++
			mu.Unlock()

			inside.Add(-1)

			r.Unlock(h)
			r.Unlock(h)
		}
	})

	assert.Equal(t, teststress.NumGoroutines*20, total)
}
