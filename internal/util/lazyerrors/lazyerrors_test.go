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

package lazyerrors

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Parallel()

	err := Error(io.EOF)
	assert.Regexp(t, `^\[lazyerrors_test\.go:\d+ lazyerrors\.TestError\] EOF$`, err.Error())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, io.EOF, UnwrapAll(err))

	assert.Panics(t, func() { _ = Error(nil) })
}

func TestChain(t *testing.T) {
	t.Parallel()

	base := New("handle closed")
	wrapped := Errorf("commit: %w", base)
	outer := Errorf("bracket: %w", wrapped)

	assert.Regexp(t,
		`^\[lazyerrors_test\.go:\d+ lazyerrors\.TestChain\] bracket: `+
			`\[lazyerrors_test\.go:\d+ lazyerrors\.TestChain\] commit: `+
			`\[lazyerrors_test\.go:\d+ lazyerrors\.TestChain\] handle closed$`,
		outer.Error(),
	)

	assert.True(t, errors.Is(outer, wrapped))
	assert.True(t, errors.Is(outer, base))

	inner := UnwrapAll(outer)
	require.NotNil(t, inner)
	assert.Equal(t, "handle closed", inner.Error())

	assert.Nil(t, UnwrapAll(nil))
}

func TestGoroutine(t *testing.T) {
	t.Parallel()

	ch := make(chan error, 1)

	go func() {
		ch <- New("err")
	}()

	err := <-ch
	assert.Regexp(t, `^\[lazyerrors_test\.go:\d+ lazyerrors\.TestGoroutine\.func1\] err$`, err.Error())
}

var drain any

func BenchmarkNew(b *testing.B) {
	for i := 0; i < b.N; i++ {
		drain = New("err")
	}

	b.StopTimer()

	assert.NotNil(b, drain)
}
