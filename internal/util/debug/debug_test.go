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

package debug

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3mdb/s3m/internal/util/must"
	"github.com/s3mdb/s3m/internal/util/testutil"
)

func TestListen(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "s3m_lock_timeouts_total",
		Help: "Test counter.",
	}, []string{"lock"})
	reg.MustRegister(c)
	c.WithLabelValues("transaction").Add(3)

	ctx, cancel := context.WithCancel(testutil.Ctx(t))

	h, err := Listen(&ListenOpts{
		TCPAddr: "127.0.0.1:0",
		L:       testutil.Logger(t),
		R:       reg,
		G:       reg,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		h.Serve(ctx)
	}()

	root := "http://" + h.Addr().String()

	get := func(t *testing.T, path string) (int, string) {
		t.Helper()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, root+path, nil)
		require.NoError(t, err)

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)

		defer res.Body.Close()

		return res.StatusCode, string(must.NotFail(io.ReadAll(res.Body)))
	}

	t.Run("Index", func(t *testing.T) {
		code, body := get(t, "/debug")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "/debug/metrics")
		assert.Contains(t, body, "/debug/graphs")
	})

	t.Run("Metrics", func(t *testing.T) {
		code, body := get(t, "/debug/metrics")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, `s3m_lock_timeouts_total{lock="transaction"} 3`)
	})

	t.Run("Graphs", func(t *testing.T) {
		code, _ := get(t, "/debug/graphs/")
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("Vars", func(t *testing.T) {
		code, body := get(t, "/debug/vars")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "memstats")
	})

	// the listener is closed after Serve returns
	cancel()
	wg.Wait()
}

func TestMetricValue(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "s3m_registry_paths",
		Help: "Test gauge.",
	})
	gauge.Set(2)

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "s3m_lock_acquisitions_total",
		Help: "Test counter.",
	}, []string{"lock"})
	counter.WithLabelValues("personal").Add(5)
	counter.WithLabelValues("operation").Add(7)

	reg.MustRegister(gauge, counter)

	mfs := must.NotFail(reg.Gather())

	assert.Equal(t, 2.0, metricValue(mfs, "s3m_registry_paths", "", ""))
	assert.Equal(t, 5.0, metricValue(mfs, "s3m_lock_acquisitions_total", "lock", "personal"))
	assert.Equal(t, 7.0, metricValue(mfs, "s3m_lock_acquisitions_total", "lock", "operation"))
	assert.Equal(t, 0.0, metricValue(mfs, "s3m_lock_acquisitions_total", "lock", "transaction"))
	assert.Equal(t, 0.0, metricValue(mfs, "s3m_missing", "", ""))
	assert.Equal(t, 0.0, metricValue([]*dto.MetricFamily{}, "s3m_registry_paths", "", ""))
}

func TestGatherer(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "s3m_registry_connections",
		Help: "Test gauge.",
	})
	reg.MustRegister(gauge)

	g := newGatherer(reg, testutil.Logger(t))

	gauge.Set(1)
	assert.Equal(t, 1.0, metricValue(must.NotFail(g.Gather()), "s3m_registry_connections", "", ""))

	// cached for a second
	gauge.Set(2)
	assert.Equal(t, 1.0, metricValue(must.NotFail(g.Gather()), "s3m_registry_connections", "", ""))
}
