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

//go:build ignore

package main

import (
	"bytes"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// files maps generated file names to git arguments producing their content.
var files = map[string][]string{
	"version.txt": {"describe", "--tags", "--dirty", "--match", "v*"},
	"commit.txt":  {"rev-parse", "HEAD"},
	"branch.txt":  {"branch", "--show-current"},
}

// generate writes git output to the given file.
// The file is left as-is if git fails, for example, outside of a repository.
func generate(filename string, args []string) {
	cmd := exec.Command("git", args...)
	cmd.Stderr = os.Stderr

	b, err := cmd.Output()
	if err != nil {
		log.Printf("%s: %q failed: %s; keeping the current file.", filename, strings.Join(cmd.Args, " "), err)
		return
	}

	b = append(bytes.TrimSpace(b), '\n')
	log.Printf("%s: %s", filename, b)

	if err = os.WriteFile(filename, b, 0o666); err != nil {
		log.Fatal(err)
	}
}

func main() {
	log.SetFlags(0)

	var wg sync.WaitGroup

	for filename, args := range files {
		wg.Add(1)

		go func() {
			defer wg.Done()
			generate(filename, args)
		}()
	}

	wg.Wait()
}
