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

// Package testutil provides testing helpers.
package testutil

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

// Ctx returns test context.
// It is canceled when test is finished.
func Ctx(tb testing.TB) context.Context {
	tb.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	ctx, span := otel.Tracer("").Start(ctx, tb.Name())
	tb.Cleanup(func() {
		span.End()
	})

	return ctx
}

// DatabasePath returns a path of a not yet existing SQLite database file
// in the test's temporary directory.
func DatabasePath(tb testing.TB) string {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())

	return filepath.Join(tb.TempDir(), name+".sqlite")
}
