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
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/s3mdb/s3m/internal/util/lazyerrors"
)

// MemoryPath is the path of a private in-memory database.
//
// Every connection to it (or to the empty path) gets its own database and its own lock state.
const MemoryPath = ":memory:"

// isMemory returns true if path refers to a private in-memory database.
func isMemory(path string) bool {
	return path == "" || path == MemoryPath
}

// NormalizePath returns the canonical form of a database path.
//
// Paths that refer to the same file have the same canonical form:
// the path is made absolute and clean, symbolic links in its existing part are resolved,
// and case is folded on case-insensitive platforms.
// The file itself does not have to exist.
// [MemoryPath] and the empty path are returned as [MemoryPath].
func NormalizePath(path string) (string, error) {
	if isMemory(path) {
		return MemoryPath, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", lazyerrors.Error(err)
	}

	res, err := resolveExisting(abs)
	if err != nil {
		return "", lazyerrors.Error(err)
	}

	if runtime.GOOS == "windows" {
		res = strings.ToLower(res)
	}

	return res, nil
}

// resolveExisting resolves symbolic links in the longest existing prefix of a clean absolute path.
func resolveExisting(path string) (string, error) {
	var rest []string

	for {
		res, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(append([]string{res}, rest...)...), nil
		}

		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		dir, file := filepath.Split(path)
		dir = filepath.Clean(dir)

		if dir == path {
			return path, nil
		}

		rest = append([]string{file}, rest...)
		path = dir
	}
}

// pathExists returns true if a database file exists at a normalized path.
func pathExists(path string) bool {
	if path == MemoryPath {
		return false
	}

	_, err := os.Stat(path)

	return err == nil
}
