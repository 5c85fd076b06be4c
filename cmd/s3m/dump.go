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

	"go.uber.org/zap"

	"github.com/s3mdb/s3m/internal/util/lazyerrors"
	"github.com/s3mdb/s3m/s3m"
)

// dumpCmd represents the dump command.
type dumpCmd struct {
	DBFlags `embed:""`
}

// run prints SQL statements that recreate the database, one per line.
func (cmd *dumpCmd) run(ctx context.Context, r *s3m.Registry, l *zap.Logger, w io.Writer) (err error) {
	conn, err := r.Connect(ctx, cmd.DB, cmd.connectOpts(l.Named("dump")))
	if err != nil {
		return lazyerrors.Error(err)
	}

	defer func() {
		if e := conn.Close(context.WithoutCancel(ctx)); err == nil && e != nil {
			err = lazyerrors.Error(e)
		}
	}()

	statements, err := conn.Dump(ctx)
	if err != nil {
		return lazyerrors.Error(err)
	}

	for _, s := range statements {
		if _, err = fmt.Fprintln(w, s); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}
