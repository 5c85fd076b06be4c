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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/s3mdb/s3m/internal/util/lazyerrors"
	"github.com/s3mdb/s3m/s3m"
)

// stressCmd represents the stress command.
type stressCmd struct {
	DBFlags `embed:""`

	Goroutines int `default:"10"  help:"Number of concurrent connections."`
	Inserts    int `default:"100" help:"Number of inserts in each transaction."`
}

// run starts one transaction per goroutine, each on its own connection to the same database,
// and checks that rows of every transaction are stored as a single contiguous block.
//
// In-memory databases are private to a connection, so a temporary file is used instead.
func (cmd *stressCmd) run(ctx context.Context, r *s3m.Registry, l *zap.Logger, w io.Writer) error {
	path := cmd.DB

	if path == "" || path == s3m.MemoryPath {
		dir, err := os.MkdirTemp("", "s3m-stress-")
		if err != nil {
			return lazyerrors.Error(err)
		}

		defer os.RemoveAll(dir) //nolint:errcheck // temporary directory

		path = filepath.Join(dir, "stress.db")
	}

	l = l.Named("stress")
	opts := cmd.connectOpts(l)

	setup, err := r.Connect(ctx, path, opts)
	if err != nil {
		return lazyerrors.Error(err)
	}

	defer setup.Close(context.WithoutCancel(ctx)) //nolint:errcheck // checked below

	if _, err = setup.ExecuteScript(ctx, "DROP TABLE IF EXISTS stress; CREATE TABLE stress (worker INTEGER, n INTEGER);"); err != nil {
		return lazyerrors.Error(err)
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := range cmd.Goroutines {
		g.Go(func() error {
			return cmd.worker(gctx, r, path, opts, i)
		})
	}

	if err = g.Wait(); err != nil {
		return err
	}

	if _, err = setup.Execute(ctx, "SELECT worker FROM stress ORDER BY rowid"); err != nil {
		return lazyerrors.Error(err)
	}

	rows, err := setup.FetchAll(ctx)
	if err != nil {
		return lazyerrors.Error(err)
	}

	workers := make([]int64, len(rows))
	for i, row := range rows {
		workers[i] = row[0].(int64)
	}

	if err = checkBlocks(workers, cmd.Goroutines, cmd.Inserts); err != nil {
		return err
	}

	fmt.Fprintf(w, "%d transactions of %d inserts each did not interleave.\n", cmd.Goroutines, cmd.Inserts)

	return setup.Close(ctx)
}

// worker inserts rows in a single transaction on its own connection.
func (cmd *stressCmd) worker(ctx context.Context, r *s3m.Registry, path string, opts *s3m.ConnectOpts, id int) (err error) {
	conn, err := r.Connect(ctx, path, opts)
	if err != nil {
		return lazyerrors.Error(err)
	}

	defer func() {
		if e := conn.Close(context.WithoutCancel(ctx)); err == nil && e != nil {
			err = lazyerrors.Error(e)
		}
	}()

	if _, err = conn.Execute(ctx, "BEGIN"); err != nil {
		return lazyerrors.Error(err)
	}

	for n := range cmd.Inserts {
		if _, err = conn.Execute(ctx, "INSERT INTO stress (worker, n) VALUES (?, ?)", id, n); err != nil {
			_ = conn.Rollback(context.WithoutCancel(ctx))
			return lazyerrors.Error(err)
		}
	}

	return conn.Commit(ctx)
}

// checkBlocks returns an error if workers column values do not form
// exactly n contiguous blocks of k equal values each.
func checkBlocks(workers []int64, n, k int) error {
	if len(workers) != n*k {
		return fmt.Errorf("expected %d rows, got %d", n*k, len(workers))
	}

	seen := make(map[int64]struct{}, n)

	for start := 0; start < len(workers); start += k {
		w := workers[start]

		if _, ok := seen[w]; ok {
			return fmt.Errorf("transaction of worker %d interleaved with another one at row %d", w, start)
		}

		seen[w] = struct{}{}

		for i := start; i < start+k; i++ {
			if workers[i] != w {
				return fmt.Errorf("transaction of worker %d interleaved with worker %d at row %d", w, workers[i], i)
			}
		}
	}

	return nil
}
