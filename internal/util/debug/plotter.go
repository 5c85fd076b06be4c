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
	"github.com/arl/statsviz"
	dto "github.com/prometheus/client_model/go"

	"github.com/s3mdb/s3m/internal/util/lazyerrors"
)

// plotter builds statsviz plots for s3m metrics.
type plotter struct {
	g *gatherer
}

// newPlotter returns a new plotter.
func newPlotter(g *gatherer) *plotter {
	return &plotter{
		g: g,
	}
}

// lockKinds are label values of s3m lock metrics.
var lockKinds = []string{"personal", "transaction", "operation"}

// plots returns plots for registry and lock metrics.
func (p *plotter) plots() ([]statsviz.TimeSeriesPlot, error) {
	configs := []statsviz.TimeSeriesPlotConfig{{
		Name:       "s3m_registry",
		Title:      "Registry",
		Type:       statsviz.Scatter,
		InfoText:   "Number of database paths and open connections.",
		YAxisTitle: "Count",
		Series: []statsviz.TimeSeries{
			p.series("paths", "s3m_registry_paths", "", ""),
			p.series("connections", "s3m_registry_connections", "", ""),
		},
	}}

	for _, c := range []struct {
		name  string
		title string
		info  string
	}{
		{"s3m_lock_acquisitions_total", "Lock acquisitions", "Total number of successful lock acquisitions."},
		{"s3m_lock_timeouts_total", "Lock timeouts", "Total number of lock acquisitions that exceeded the lock timeout."},
	} {
		series := make([]statsviz.TimeSeries, len(lockKinds))
		for i, kind := range lockKinds {
			series[i] = p.series(kind, c.name, "lock", kind)
		}

		configs = append(configs, statsviz.TimeSeriesPlotConfig{
			Name:       c.name,
			Title:      c.title,
			Type:       statsviz.Scatter,
			InfoText:   c.info,
			YAxisTitle: "Count",
			Series:     series,
		})
	}

	res := make([]statsviz.TimeSeriesPlot, len(configs))

	for i, c := range configs {
		plot, err := c.Build()
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		res[i] = plot
	}

	return res, nil
}

// series returns a time series of a single metric value.
func (p *plotter) series(name, metric, label, value string) statsviz.TimeSeries {
	return statsviz.TimeSeries{
		Name:    name,
		Unitfmt: "%{y:.4s}",
		GetValue: func() float64 {
			mfs, _ := p.g.Gather()
			return metricValue(mfs, metric, label, value)
		},
	}
}

// metricValue returns the value of a counter or gauge with the given name and label value (if not empty).
// It returns 0 if there is no such metric.
func metricValue(mfs []*dto.MetricFamily, name, label, value string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}

		for _, m := range mf.GetMetric() {
			if label != "" && !hasLabel(m, label, value) {
				continue
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				return m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				return m.GetGauge().GetValue()
			case dto.MetricType_UNTYPED:
				return m.GetUntyped().GetValue()
			case dto.MetricType_HISTOGRAM:
				return float64(m.GetHistogram().GetSampleCount())
			case dto.MetricType_SUMMARY, dto.MetricType_GAUGE_HISTOGRAM:
				return 0
			}
		}
	}

	return 0
}

// hasLabel returns true if the metric has a label with the given name and value.
func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}

	return false
}
