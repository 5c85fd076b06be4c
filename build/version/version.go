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

// Package version provides information about s3m version and build configuration.
//
// # Extra files
//
// The following generated text files may be present in this (`build/version`) directory during building:
//   - version.txt (required) contains information about the s3m version in a format
//     similar to `git describe` output: `v<major>.<minor>.<patch>`.
//   - commit.txt (optional) contains information about the source git commit.
//   - branch.txt (optional) contains information about the source git branch.
//   - package.txt (optional) contains package type (e.g. "deb", "rpm", "docker", etc).
//
// # Go build tags
//
// The following Go build tags affect builds of s3m:
//
//	s3m_dev - enables development build (implied by builds with race detector)
//
// Development builds log at the debug level by default, enable zap's development mode,
// and write metrics to stderr on exit.
package version

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"runtime"
	runtimedebug "runtime/debug"
	"strconv"
	"strings"

	"github.com/s3mdb/s3m/internal/util/devbuild"
	"github.com/s3mdb/s3m/internal/util/must"
)

//go:generate go run ./generate.go

//go:embed *.txt
var gen embed.FS

// Info provides details about the current build.
//
//nolint:vet // for readability
type Info struct {
	Version          string
	Commit           string
	Branch           string
	Dirty            bool
	Package          string
	DevBuild         bool
	BuildEnvironment map[string]string
}

// info singleton instance set by init().
var info *Info

// unknown is a placeholder for unknown version, commit, and branch values.
const unknown = "unknown"

// s3m module path from go.mod.
const s3mModule = "github.com/s3mdb/s3m"

// semVerTag is a https://semver.org/#is-there-a-suggested-regular-expression-regex-to-check-a-semver-string,
// but with a leading `v`.
//
//nolint:lll // for readability
var semVerTag = regexp.MustCompile(`^v(?P<major>0|[1-9]\d*)\.(?P<minor>0|[1-9]\d*)\.(?P<patch>0|[1-9]\d*)(?:-(?P<prerelease>(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+(?P<buildmetadata>[0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Get returns current build's info.
//
// It returns a shared instance without any synchronization.
func Get() *Info {
	return info
}

// newInfo returns info read from txt files (that might be absent).
// All fields are set to non-empty values, but some of them may be unknown.
func newInfo(files fs.ReadFileFS) *Info {
	res := &Info{
		Version:  unknown,
		Commit:   unknown,
		Branch:   unknown,
		Package:  unknown,
		DevBuild: devbuild.Enabled,
		BuildEnvironment: map[string]string{
			"go.runtime": runtime.Version(),
		},
	}

	for f, sp := range map[string]*string{
		"version.txt": &res.Version,
		"commit.txt":  &res.Commit,
		"branch.txt":  &res.Branch,
		"package.txt": &res.Package,
	} {
		b, _ := files.ReadFile(f)
		if s := strings.TrimSpace(string(b)); s != "" {
			*sp = s
		}
	}

	if strings.HasSuffix(res.Version, "-dirty") {
		res.Dirty = true
	}

	return res
}

// readBuildInfo updates info with module version, commit and build settings if s3m is the main module.
//
// Settings of other main modules refer to their repositories, not to s3m, and are ignored.
func readBuildInfo(info *Info, buildInfo *runtimedebug.BuildInfo) {
	info.BuildEnvironment["go.version"] = buildInfo.GoVersion

	version := buildInfo.Main.Version
	if buildInfo.Main.Path != s3mModule {
		version = ""

		for _, dep := range buildInfo.Deps {
			if dep.Path != s3mModule {
				continue
			}

			version = dep.Version
			if dep.Replace != nil {
				version = dep.Replace.Version
			}

			break
		}
	}

	if version != "" && version != "(devel)" && info.Version == unknown {
		info.Version = version
	}

	if buildInfo.Main.Path != s3mModule {
		return
	}

	for _, s := range buildInfo.Settings {
		if v := s.Value; v != "" {
			info.BuildEnvironment[s.Key] = v
		}

		switch s.Key {
		case "vcs.revision":
			if info.Commit == unknown {
				info.Commit = s.Value
			}
		case "vcs.modified":
			info.Dirty = must.NotFail(strconv.ParseBool(s.Value))
		}
	}
}

func init() {
	info = newInfo(gen)

	if buildInfo, ok := runtimedebug.ReadBuildInfo(); ok {
		readBuildInfo(info, buildInfo)
	}

	if info.Version != unknown && !semVerTag.MatchString(info.Version) {
		msg := fmt.Sprintf("info.Version: %q\n", info.Version)
		msg += "Invalid build/version/version.txt file content. Please run `go generate ./build/version`.\n"
		msg += "Alternatively, create this file manually with a content similar to\n"
		msg += "the output of `git describe`: `v<major>.<minor>.<patch>`."
		panic(msg)
	}
}
