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

// Package debug provides debug facilities.
package debug

import (
	"bytes"
	"context"
	"errors"
	_ "expvar" // for metrics
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // for profiling
	"text/template"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/s3mdb/s3m/internal/util/lazyerrors"
	"github.com/s3mdb/s3m/internal/util/must"
)

// Handler serves debug endpoints.
type Handler struct {
	lis      net.Listener
	s        *http.Server
	l        *zap.Logger
	handlers map[string]string
}

// ListenOpts represents options for Listen.
type ListenOpts struct {
	TCPAddr string
	L       *zap.Logger
	R       prometheus.Registerer
	G       prometheus.Gatherer
}

// Listen creates a new debug handler and starts listening on the given address.
func Listen(opts *ListenOpts) (*Handler, error) {
	l := opts.L
	if l == nil {
		l = zap.NewNop()
	}

	stdL := must.NotFail(zap.NewStdLogAt(l, zap.WarnLevel))

	g := newGatherer(opts.G, l)

	metricHandler := promhttp.InstrumentMetricHandler(
		opts.R, promhttp.HandlerFor(g, promhttp.HandlerOpts{
			ErrorLog:          stdL,
			ErrorHandling:     promhttp.ContinueOnError,
			Registry:          opts.R,
			EnableOpenMetrics: true,
		}),
	)

	mux := http.NewServeMux()
	mux.Handle("/debug/metrics", metricHandler)

	plots, err := newPlotter(g).plots()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	statsvizOpts := []statsviz.Option{
		statsviz.Root("/debug/graphs"),
	}

	for _, p := range plots {
		statsvizOpts = append(statsvizOpts, statsviz.TimeseriesPlot(p))
	}

	if err = statsviz.Register(mux, statsvizOpts...); err != nil {
		return nil, lazyerrors.Error(err)
	}

	// stdlib handlers are registered on the default mux by imports above
	mux.Handle("/debug/vars", http.DefaultServeMux)
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	handlers := map[string]string{
		// custom handlers registered above
		"/debug/graphs":  "Visualize metrics",
		"/debug/metrics": "Metrics in Prometheus format",

		// stdlib handlers
		"/debug/vars":   "Expvar package metrics",
		"/debug/pprof/": "Runtime profiling data for pprof",
	}

	var page bytes.Buffer
	must.NoError(template.Must(template.New("debug").Parse(`
	<html>
	<body>
	<ul>
	{{range $path, $desc := .}}
		<li><a href="{{$path}}">{{$path}}</a>: {{$desc}}</li>
	{{end}}
	</ul>
	</body>
	</html>
	`)).Execute(&page, handlers))

	mux.HandleFunc("/debug", func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write(page.Bytes())
	})

	mux.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
		http.Redirect(rw, req, "/debug", http.StatusSeeOther)
	})

	lis, err := net.Listen("tcp", opts.TCPAddr)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &Handler{
		lis: lis,
		s: &http.Server{
			Handler:           mux,
			ErrorLog:          stdL,
			ReadHeaderTimeout: 5 * time.Second,
		},
		l:        l,
		handlers: handlers,
	}, nil
}

// Addr returns the listener address.
func (h *Handler) Addr() net.Addr {
	return h.lis.Addr()
}

// Serve runs debug handler until ctx is canceled.
func (h *Handler) Serve(ctx context.Context) {
	h.s.BaseContext = func(net.Listener) context.Context {
		return ctx
	}

	root := fmt.Sprintf("http://%s", h.lis.Addr())

	h.l.Sugar().Infof("Starting debug server on %s ...", root)

	paths := maps.Keys(h.handlers)
	slices.Sort(paths)

	for _, path := range paths {
		h.l.Sugar().Infof("%s%s - %s", root, path, h.handlers[path])
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := h.s.Serve(h.lis); !errors.Is(err, http.ErrServerClosed) {
			h.l.DPanic("Debug server stopped unexpectedly", zap.Error(err))
		}
	}()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()

	_ = h.s.Shutdown(stopCtx) //nolint:contextcheck // use new context for cancellation
	_ = h.s.Close()

	<-done

	h.l.Sugar().Info("Debug server stopped.")
}
