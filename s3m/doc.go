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

// Package s3m provides SQLite connections that may be shared by many goroutines.
//
// SQLite allows a single writer per database file and its connections must not be used concurrently.
// A [Registry] keeps lock state for each database path;
// every [Conn] operation takes the connection's own lock, the path's transaction lock,
// and the path's operation lock before calling the engine.
// As a result, operations on connections to the same path never run in parallel,
// and, unless disabled, transactions of different connections do not interleave.
//
// Locks are reentrant per holder, not per goroutine.
// A holder is attached to the context by [Conn.Acquire] and [Conn.With];
// use that context for nested operations.
//
// Typical usage:
//
//	r := s3m.NewRegistry(nil)
//	defer r.Close()
//
//	conn, err := r.Connect(ctx, "test.db", nil)
//	if err != nil {
//		return err
//	}
//	defer conn.Close(ctx)
//
//	if _, err = conn.Execute(ctx, "BEGIN"); err != nil {
//		return err
//	}
//
//	// other connections to test.db can't start a transaction until Commit
//	if _, err = conn.Execute(ctx, "INSERT INTO t VALUES(?)", 42); err != nil {
//		_ = conn.Rollback(ctx)
//		return err
//	}
//
//	return conn.Commit(ctx)
package s3m
