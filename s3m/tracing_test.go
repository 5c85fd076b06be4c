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
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelsdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/s3mdb/s3m/internal/util/testutil"
)

//nolint:paralleltest // uses global tracer provider
func TestBracketSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(otelsdktrace.NewTracerProvider(otelsdktrace.WithSpanProcessor(sr)))

	t.Cleanup(func() {
		otel.SetTracerProvider(noop.NewTracerProvider())
	})

	ctx, r := setup(t)
	conn := connect(t, r, testutil.DatabasePath(t), nil)

	err := conn.With(ctx, func(ctx context.Context) error {
		_, err := conn.Execute(ctx, "SELECT 1")
		return err
	})
	require.NoError(t, err)

	connID := attribute.String("s3m.conn", conn.ID().String())

	var with, execute otelsdktrace.ReadOnlySpan

	for _, s := range sr.Ended() {
		if !slices.Contains(s.Attributes(), connID) {
			continue
		}

		switch s.Name() {
		case "With":
			with = s
		case "Execute":
			execute = s
		}
	}

	require.NotNil(t, with)
	require.NotNil(t, execute)

	assert.Contains(t, with.Attributes(), attribute.String("s3m.path", conn.Path()))
	assert.Equal(t, with.SpanContext().SpanID(), execute.Parent().SpanID())
}
