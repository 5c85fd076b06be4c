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

package engine

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	_ "modernc.org/sqlite" // register database/sql driver "sqlite"

	"github.com/s3mdb/s3m/internal/util/lazyerrors"
)

// DefaultDriver is the driver used when OpenOpts.Driver is empty.
const DefaultDriver = "sqlite"

// driver describes a database/sql SQLite driver.
type driver struct {
	// dsn returns the data source name for the given database path.
	dsn func(path string, busyTimeout time.Duration) string

	// inTransaction asks the engine for the transaction status.
	// If nil, the status is tracked from executed statements.
	inTransaction func(conn *sql.Conn) (bool, error)
}

// drivers maps database/sql driver names to their descriptions.
var drivers = map[string]*driver{
	// modernc.org/sqlite, pure Go
	"sqlite": {
		dsn: func(path string, busyTimeout time.Duration) string {
			return fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())
		},
	},

	// github.com/mattn/go-sqlite3, requires cgo
	"sqlite3": {
		dsn: func(path string, busyTimeout time.Duration) string {
			return fmt.Sprintf("%s?_busy_timeout=%d", path, busyTimeout.Milliseconds())
		},
		inTransaction: func(conn *sql.Conn) (bool, error) {
			var res bool

			err := conn.Raw(func(dc any) error {
				c, ok := dc.(*sqlite3.SQLiteConn)
				if !ok {
					return lazyerrors.Errorf("unexpected driver connection %T", dc)
				}

				res = !c.AutoCommit()

				return nil
			})

			return res, err
		},
	},
}

// Drivers returns a sorted list of supported driver names.
func Drivers() []string {
	res := maps.Keys(drivers)
	slices.Sort(res)

	return res
}
