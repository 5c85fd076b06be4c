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
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/s3mdb/s3m/internal/lock"
)

const (
	namespace = "s3m"
)

// metrics contains lock metrics of a registry.
type metrics struct {
	acquisitions *prometheus.CounterVec
	timeouts     *prometheus.CounterVec
	wait         *prometheus.HistogramVec
}

// newMetrics creates new metrics.
func newMetrics() *metrics {
	return &metrics{
		acquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "acquisitions_total",
				Help:      "Total number of successful lock acquisitions.",
			},
			[]string{"lock"},
		),
		timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "timeouts_total",
				Help:      "Total number of lock acquisitions that exceeded the lock timeout.",
			},
			[]string{"lock"},
		),
		wait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "wait_seconds",
				Help:      "Time spent waiting for locks.",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"lock"},
		),
	}
}

// observe records the result of a single lock acquisition.
func (m *metrics) observe(kind LockKind, wait time.Duration, err error) {
	m.wait.WithLabelValues(string(kind)).Observe(wait.Seconds())

	switch {
	case err == nil:
		m.acquisitions.WithLabelValues(string(kind)).Inc()
	case errors.Is(err, lock.ErrTimeout):
		m.timeouts.WithLabelValues(string(kind)).Inc()
	}
}

// Describe implements prometheus.Collector.
func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	m.acquisitions.Describe(ch)
	m.timeouts.Describe(ch)
	m.wait.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	m.acquisitions.Collect(ch)
	m.timeouts.Collect(ch)
	m.wait.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*metrics)(nil)
)
