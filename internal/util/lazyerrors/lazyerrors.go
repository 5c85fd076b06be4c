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

// Package lazyerrors provides error wrapping that records the caller.
//
// It is used for unexpected errors that are only logged or returned as-is;
// errors that callers are expected to inspect are defined as sentinels or types instead.
package lazyerrors

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// withCaller is an error annotated with the program counter of its creator.
type withCaller struct {
	error
	pc uintptr
}

// Error implements error interface.
func (e withCaller) Error() string {
	if e.pc == 0 {
		return e.error.Error()
	}

	f, _ := runtime.CallersFrames([]uintptr{e.pc}).Next()
	if f.File == "" {
		return "[unknown] " + e.error.Error()
	}

	_, file := filepath.Split(f.File)
	loc := file + ":" + strconv.Itoa(f.Line)

	if f.Function != "" {
		i := strings.LastIndex(f.Function, "/")
		loc += " " + f.Function[i+1:]
	}

	return fmt.Sprintf("[%s] %s", loc, e.error)
}

// Unwrap returns the wrapped error.
func (e withCaller) Unwrap() error {
	return e.error
}

// caller returns the program counter of the function that called lazyerrors' function.
func caller() uintptr {
	pcs := make([]uintptr, 1)
	if runtime.Callers(3, pcs) == 0 {
		return 0
	}

	return pcs[0]
}

// New returns a new error with the given text, annotated with the caller.
func New(s string) error {
	return withCaller{
		error: errors.New(s),
		pc:    caller(),
	}
}

// Error annotates err with the caller.
//
// It panics if err is nil.
func Error(err error) error {
	if err == nil {
		panic("err is nil")
	}

	return withCaller{
		error: err,
		pc:    caller(),
	}
}

// Errorf returns a formatted error annotated with the caller.
// The %w verb works as in [fmt.Errorf].
func Errorf(format string, a ...any) error {
	return withCaller{
		error: fmt.Errorf(format, a...),
		pc:    caller(),
	}
}

// UnwrapAll returns the innermost error of the chain, or nil if err is nil.
func UnwrapAll(err error) error {
	if err == nil {
		return nil
	}

	for {
		e := errors.Unwrap(err)
		if e == nil {
			return err
		}

		err = e
	}
}
