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

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parse parses command-line arguments into cli and returns the selected command.
func parse(t *testing.T, args ...string) string {
	t.Helper()

	parser, err := kong.New(&cli, kongOptions...)
	require.NoError(t, err)

	kctx, err := parser.Parse(args)
	require.NoError(t, err)

	return kctx.Command()
}

// execute parses arguments and runs the command, returning its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	err := run(parse(t, append([]string{"--log-level=warn"}, args...)...), &buf)

	return buf.String(), err
}

//nolint:paralleltest // uses global cli
func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version: v")
	assert.Contains(t, out, "commit: ")
}

//nolint:paralleltest // uses global cli
func TestExec(t *testing.T) {
	db := filepath.Join(t.TempDir(), "exec.db")

	out, err := execute(t, "exec", "--db", db,
		"CREATE TABLE t (a, b)",
		"INSERT INTO t VALUES (1, 'x'), (NULL, x'0102')",
		"SELECT a, b FROM t ORDER BY rowid",
	)
	require.NoError(t, err)
	assert.Equal(t, "1\tx\nNULL\tx'0102'\n", out)

	t.Run("Script", func(t *testing.T) {
		out, err := execute(t, "exec", "--db", db, "--script",
			"INSERT INTO t VALUES (2, 'y'); INSERT INTO t VALUES (3, 'z');",
		)
		require.NoError(t, err)
		assert.Empty(t, out)

		out, err = execute(t, "exec", "--db", db, "SELECT count(*) FROM t")
		require.NoError(t, err)
		assert.Equal(t, "4\n", out)
	})

	t.Run("OpenTransaction", func(t *testing.T) {
		_, err := execute(t, "exec", "--db", db, "BEGIN", "DELETE FROM t")
		require.NoError(t, err)

		out, err := execute(t, "exec", "--db", db, "SELECT count(*) FROM t")
		require.NoError(t, err)
		assert.Equal(t, "4\n", out)
	})

	t.Run("Error", func(t *testing.T) {
		_, err := execute(t, "exec", "--db", db, "SELECT * FROM missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"SELECT * FROM missing"`)
		assert.Contains(t, err.Error(), "no such table")
	})
}

//nolint:paralleltest // uses global cli
func TestDump(t *testing.T) {
	db := filepath.Join(t.TempDir(), "dump.db")

	_, err := execute(t, "exec", "--db", db, "--script",
		"CREATE TABLE t (a, b); INSERT INTO t VALUES (1, 'x'), (NULL, x'0102');",
	)
	require.NoError(t, err)

	out, err := execute(t, "dump", "--db", db)
	require.NoError(t, err)

	expected := "BEGIN TRANSACTION;\n" +
		"CREATE TABLE t (a, b);\n" +
		"INSERT INTO \"t\" VALUES(1,'x');\n" +
		"INSERT INTO \"t\" VALUES(NULL,X'0102');\n" +
		"COMMIT;\n"
	assert.Equal(t, expected, out)

	t.Run("Memory", func(t *testing.T) {
		out, err := execute(t, "dump")
		require.NoError(t, err)
		assert.Equal(t, "BEGIN TRANSACTION;\nCOMMIT;\n", out)
	})
}

//nolint:paralleltest // uses global cli
func TestStress(t *testing.T) {
	db := filepath.Join(t.TempDir(), "stress.db")

	out, err := execute(t, "stress", "--db", db, "--goroutines", "5", "--inserts", "10")
	require.NoError(t, err)
	assert.Equal(t, "5 transactions of 10 inserts each did not interleave.\n", out)

	t.Run("Memory", func(t *testing.T) {
		out, err := execute(t, "stress", "--goroutines", "3", "--inserts", "3")
		require.NoError(t, err)
		assert.Equal(t, "3 transactions of 3 inserts each did not interleave.\n", out)
	})
}

func TestCheckBlocks(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		workers []int64
		err     string
	}{
		"Valid": {
			workers: []int64{2, 2, 0, 0, 1, 1},
		},
		"Count": {
			workers: []int64{0, 0, 1, 1, 2},
			err:     "expected 6 rows, got 5",
		},
		"Interleaved": {
			workers: []int64{0, 1, 0, 1, 2, 2},
			err:     "transaction of worker 0 interleaved with worker 1 at row 1",
		},
		"Split": {
			workers: []int64{0, 0, 1, 1, 0, 0},
			err:     "transaction of worker 0 interleaved with another one at row 4",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := checkBlocks(tc.workers, 3, 2)
			if tc.err == "" {
				assert.NoError(t, err)
				return
			}

			assert.EqualError(t, err, tc.err)
		})
	}
}

func TestFormatRow(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1\t2.5\tNULL\tx'ff'\ttext", formatRow([]any{int64(1), 2.5, nil, []byte{0xff}, "text"}))
	assert.Equal(t, "", formatRow(nil))
}
