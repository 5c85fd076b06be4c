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
	"fmt"
	"strings"

	"github.com/s3mdb/s3m/internal/engine"
	"github.com/s3mdb/s3m/internal/util/lazyerrors"
)

// Dump returns SQL statements that recreate the database, one statement per element.
//
// The output has the same layout as the SQLite shell's .dump:
// tables with their rows first, then indexes, triggers and views, all wrapped in a single transaction.
// It runs inside a single bracket, so other connections to the same path
// can't start a transaction while the database is read.
func (c *Conn) Dump(ctx context.Context) ([]string, error) {
	var res []string

	err := c.bracket(ctx, nil, "Dump", func(ctx context.Context) error {
		ec, err := c.res.h.Cursor()
		if err != nil {
			return err
		}

		defer ec.Close() //nolint:errcheck // results are already read

		res, err = dump(ctx, ec)

		return err
	})

	return res, err
}

// dump reads the schema and rows using the given cursor.
func dump(ctx context.Context, ec engine.Cursor) ([]string, error) {
	tables, err := queryText(ctx, ec,
		`SELECT name, type, sql FROM sqlite_schema WHERE sql NOT NULL AND type = 'table' ORDER BY name`,
	)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res := []string{"BEGIN TRANSACTION;"}

	var writableSchema bool

	for _, t := range tables {
		name, sql := t[0], t[2]

		switch {
		case name == "sqlite_sequence":
			res = append(res, `DELETE FROM "sqlite_sequence";`)
		case name == "sqlite_stat1":
			res = append(res, `ANALYZE "sqlite_schema";`)
		case strings.HasPrefix(name, "sqlite_"):
			continue
		case strings.HasPrefix(strings.ToUpper(sql), "CREATE VIRTUAL TABLE"):
			if !writableSchema {
				res = append(res, "PRAGMA writable_schema=ON;")
				writableSchema = true
			}

			res = append(res, fmt.Sprintf(
				"INSERT INTO sqlite_schema(type,name,tbl_name,rootpage,sql) VALUES('table',%s,%s,0,%s);",
				quoteLiteral(name), quoteLiteral(name), quoteLiteral(sql),
			))

			// rows of virtual tables live in their shadow tables
			continue
		default:
			res = append(res, sql+";")
		}

		var inserts []string
		if inserts, err = dumpRows(ctx, ec, name); err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, inserts...)
	}

	others, err := queryText(ctx, ec,
		`SELECT name, type, sql FROM sqlite_schema WHERE sql NOT NULL AND type IN ('index', 'trigger', 'view')`,
	)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	for _, o := range others {
		res = append(res, o[2]+";")
	}

	if writableSchema {
		res = append(res, "PRAGMA writable_schema=OFF;")
	}

	res = append(res, "COMMIT;")

	return res, nil
}

// dumpRows returns INSERT statements for all rows of the given table.
//
// Values are formatted by SQLite's quote function, so they round-trip exactly.
func dumpRows(ctx context.Context, ec engine.Cursor, table string) ([]string, error) {
	cols, err := queryText(ctx, ec, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if len(cols) == 0 {
		return nil, nil
	}

	values := make([]string, len(cols))
	for i, col := range cols {
		values[i] = "quote(" + quoteIdent(col[0]) + ")"
	}

	q := fmt.Sprintf(
		"SELECT 'INSERT INTO ' || %s || ' VALUES(' || %s || ');' FROM %s",
		quoteLiteral(quoteIdent(table)), strings.Join(values, " || ',' || "), quoteIdent(table),
	)

	rows, err := queryText(ctx, ec, q)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res := make([]string, len(rows))
	for i, row := range rows {
		res[i] = row[0]
	}

	return res, nil
}

// queryText executes a query and returns all its rows as text values.
// NULL values are returned as empty strings.
func queryText(ctx context.Context, ec engine.Cursor, query string, args ...any) ([][]string, error) {
	if err := ec.Execute(ctx, query, args...); err != nil {
		return nil, err
	}

	rows, err := ec.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	res := make([][]string, len(rows))

	for i, row := range rows {
		res[i] = make([]string, len(row))

		for j, v := range row {
			switch v := v.(type) {
			case nil:
			case string:
				res[i][j] = v
			case []byte:
				res[i][j] = string(v)
			default:
				return nil, lazyerrors.Errorf("unexpected value type %T", v)
			}
		}
	}

	return res, nil
}

// quoteIdent returns a double-quoted SQL identifier.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// quoteLiteral returns a single-quoted SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
