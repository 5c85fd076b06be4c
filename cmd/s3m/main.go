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

// Command s3m runs SQL against SQLite databases through s3m connections.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "golang.org/x/crypto/x509roots/fallback" // register root TLS certificates for the OTLP exporter

	"github.com/s3mdb/s3m/build/version"
	"github.com/s3mdb/s3m/internal/util/ctxutil"
	"github.com/s3mdb/s3m/internal/util/debug"
	"github.com/s3mdb/s3m/internal/util/devbuild"
	"github.com/s3mdb/s3m/internal/util/logging"
	"github.com/s3mdb/s3m/internal/util/must"
	"github.com/s3mdb/s3m/internal/util/observability"
	"github.com/s3mdb/s3m/s3m"
)

// DBFlags represents flags of commands that connect to a database.
//
//nolint:lll // some tags are long
type DBFlags struct {
	DB               string        `default:":memory:" help:"Database file path; ':memory:' for a private in-memory database."`
	Driver           string        `default:"sqlite"   help:"${help_driver}" enum:"${enum_driver}"`
	BusyTimeout      time.Duration `default:"5s"       help:"SQLite busy timeout."`
	LockTimeout      time.Duration `default:"-1s"      help:"Lock timeout; zero makes a single attempt, negative waits forever."`
	LockTransactions bool          `default:"true"     help:"Block concurrent transactions of connections to the same database." negatable:""`
}

// connectOpts returns connection options for flags.
func (f *DBFlags) connectOpts(l *zap.Logger) *s3m.ConnectOpts {
	return &s3m.ConnectOpts{
		LockTransactions: pointer.ToBool(f.LockTransactions),
		LockTimeout:      pointer.ToDuration(f.LockTimeout),
		Driver:           f.Driver,
		BusyTimeout:      f.BusyTimeout,
		L:                l,
	}
}

// The cli struct represents all command-line commands, fields and flags.
// It's used for parsing the user input.
//
//nolint:lll // some tags are long
var cli struct {
	Log struct {
		Level  string `default:"${default_log_level}" help:"${help_log_level}"`
		Format string `default:"console"              help:"${help_log_format}" enum:"${enum_log_format}"`
	} `embed:"" prefix:"log-"`

	DebugAddr    string `default:"-"     help:"Listen address for HTTP handlers for metrics, pprof, etc; '-' disables them."`
	OTLPEndpoint string `default:""      help:"OTLP/HTTP endpoint for traces; empty disables tracing."                       name:"otlp-endpoint"`
	DumpMetrics  bool   `default:"false" help:"Write all metrics to stderr on exit."`

	Version struct{}  `cmd:"" help:"Print version to stdout and exit."`
	Exec    execCmd   `cmd:"" help:"Execute SQL statements and print results."`
	Dump    dumpCmd   `cmd:"" help:"Print SQL statements that recreate the database."`
	Stress  stressCmd `cmd:"" help:"Run concurrent transactions and check that they do not interleave."`
}

// Additional variables for the kong parsers.
var (
	logLevels = []string{
		zap.DebugLevel.String(),
		zap.InfoLevel.String(),
		zap.WarnLevel.String(),
		zap.ErrorLevel.String(),
	}

	kongOptions = []kong.Option{
		kong.Vars{
			"default_log_level": defaultLogLevel().String(),

			"enum_driver":     strings.Join(s3m.Drivers(), ","),
			"enum_log_format": strings.Join(logging.Formats, ","),

			"help_driver":     fmt.Sprintf("Engine driver: '%s'.", strings.Join(s3m.Drivers(), "', '")),
			"help_log_format": fmt.Sprintf("Log format: '%s'.", strings.Join(logging.Formats, "', '")),
			"help_log_level":  fmt.Sprintf("Log level: '%s'.", strings.Join(logLevels, "', '")),
		},
		kong.DefaultEnvars("S3M"),
	}
)

func main() {
	kctx := kong.Parse(&cli, kongOptions...)

	if err := run(kctx.Command(), os.Stdout); err != nil {
		kctx.FatalIfErrorf(err)
	}
}

// defaultLogLevel returns the default log level.
func defaultLogLevel() zapcore.Level {
	if version.Get().DevBuild {
		return zap.DebugLevel
	}

	return zap.InfoLevel
}

// setupLogger setups zap logger.
func setupLogger() *zap.Logger {
	info := version.Get()

	level, err := zapcore.ParseLevel(cli.Log.Level)
	if err != nil {
		log.Fatal(err)
	}

	logging.Setup(level, cli.Log.Format)
	l := zap.L()

	l.Debug(
		"Starting s3m "+info.Version+"...",
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("branch", info.Branch),
		zap.Bool("dirty", info.Dirty),
		zap.String("package", info.Package),
		zap.Bool("devBuild", info.DevBuild),
		zap.Any("buildEnvironment", info.BuildEnvironment),
	)

	if devbuild.Enabled {
		l.Info("This is development build. The performance will be affected.")
	}

	return l
}

// printVersion writes version information to w.
func printVersion(w io.Writer) {
	info := version.Get()

	fmt.Fprintln(w, "version:", info.Version)
	fmt.Fprintln(w, "commit:", info.Commit)
	fmt.Fprintln(w, "branch:", info.Branch)
	fmt.Fprintln(w, "dirty:", info.Dirty)
	fmt.Fprintln(w, "package:", info.Package)
	fmt.Fprintln(w, "devBuild:", info.DevBuild)
}

// dumpMetrics dumps all Prometheus metrics to w.
func dumpMetrics(w io.Writer) {
	mfs := must.NotFail(prometheus.DefaultGatherer.Gather())

	for _, mf := range mfs {
		must.NotFail(expfmt.MetricFamilyToText(w, mf))
	}
}

// run sets up environment based on provided flags and runs the given command.
func run(command string, stdout io.Writer) error {
	if command == "version" {
		printVersion(stdout)
		return nil
	}

	// to increase a chance of resource finalizers to spot problems
	if devbuild.Enabled {
		defer func() {
			runtime.GC()
			runtime.GC()
		}()
	}

	// safe to always enable
	runtime.SetBlockProfileRate(10000)

	logger := setupLogger()

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Sugar().Warnf("Failed to set GOMAXPROCS: %s.", err)
	}

	shutdownOtel, err := observability.SetupOtel("s3m", cli.OTLPEndpoint)
	if err != nil {
		logger.Sugar().Fatalf("Failed to set up OpenTelemetry: %s.", err)
	}

	if shutdownOtel != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := shutdownOtel(ctx); err != nil {
				logger.Warn("Failed to shut down OpenTelemetry", zap.Error(err))
			}
		}()
	}

	ctx, stop := ctxutil.SigTerm(context.Background())
	defer stop()

	r := s3m.NewRegistry(&s3m.NewRegistryOpts{
		L: logger.Named("registry"),
	})
	defer r.Close()

	prometheus.DefaultRegisterer.MustRegister(r)
	defer prometheus.DefaultRegisterer.Unregister(r)

	var wg sync.WaitGroup

	debugCtx, debugStop := context.WithCancel(ctx)

	// https://github.com/alecthomas/kong/issues/389
	if cli.DebugAddr != "" && cli.DebugAddr != "-" {
		h, err := debug.Listen(&debug.ListenOpts{
			TCPAddr: cli.DebugAddr,
			L:       logger.Named("debug"),
			R:       prometheus.DefaultRegisterer,
			G:       prometheus.DefaultGatherer,
		})
		if err != nil {
			logger.Sugar().Fatalf("Failed to create debug handler: %s.", err)
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			h.Serve(debugCtx)
		}()
	}

	switch command {
	case "exec <sql>":
		err = cli.Exec.run(ctx, r, logger, stdout)
	case "dump":
		err = cli.Dump.run(ctx, r, logger, stdout)
	case "stress":
		err = cli.Stress.run(ctx, r, logger, stdout)
	default:
		panic(fmt.Sprintf("unknown command %q", command))
	}

	debugStop()
	wg.Wait()

	if cli.DumpMetrics || devbuild.Enabled {
		dumpMetrics(os.Stderr)
	}

	return err
}
