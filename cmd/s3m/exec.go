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
	"strings"

	"go.uber.org/zap"

	"github.com/s3mdb/s3m/internal/util/lazyerrors"
	"github.com/s3mdb/s3m/s3m"
)

// execCmd represents the exec command.
type execCmd struct {
	DBFlags `embed:""`

	Script bool     `default:"false" help:"Execute each argument as a script of many statements without parameters."`
	SQL    []string `arg:""          help:"SQL statements to execute in order."`
}

// run executes statements in order, printing rows of each one as tab-separated values.
//
// A transaction left open by the statements is rolled back.
func (cmd *execCmd) run(ctx context.Context, r *s3m.Registry, l *zap.Logger, w io.Writer) (err error) {
	conn, err := r.Connect(ctx, cmd.DB, cmd.connectOpts(l.Named("exec")))
	if err != nil {
		return lazyerrors.Error(err)
	}

	defer func() {
		if e := conn.Close(context.WithoutCancel(ctx)); err == nil && e != nil {
			err = lazyerrors.Error(e)
		}
	}()

	for _, q := range cmd.SQL {
		if cmd.Script {
			_, err = conn.ExecuteScript(ctx, q)
		} else {
			_, err = conn.Execute(ctx, q)
		}

		if err != nil {
			return fmt.Errorf("%q: %w", q, err)
		}

		var rows []s3m.Row
		if rows, err = conn.FetchAll(ctx); err != nil {
			return lazyerrors.Error(err)
		}

		for _, row := range rows {
			fmt.Fprintln(w, formatRow(row))
		}
	}

	inTx, err := conn.InTransaction(ctx)
	if err != nil {
		return lazyerrors.Error(err)
	}

	if inTx {
		l.Warn("Rolling back transaction left open.")

		if err = conn.Rollback(ctx); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// formatRow returns tab-separated values of a row.
func formatRow(row s3m.Row) string {
	res := make([]string, len(row))

	for i, v := range row {
		switch v := v.(type) {
		case nil:
			res[i] = "NULL"
		case []byte:
			res[i] = fmt.Sprintf("x'%x'", v)
		default:
			res[i] = fmt.Sprint(v)
		}
	}

	return strings.Join(res, "\t")
}
