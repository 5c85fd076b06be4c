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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// gatherInterval is the minimal interval between two gathers of the wrapped gatherer.
const gatherInterval = time.Second

// gatherer wraps another Prometheus Gatherer with a cache and error handling.
//
// Both metrics handler and statsviz plots use it,
// so every plot series does not gather all metrics again.
type gatherer struct {
	g prometheus.Gatherer
	l *zap.Logger

	rw   sync.RWMutex
	last time.Time
	mfs  []*dto.MetricFamily
}

// newGatherer returns a new gatherer.
func newGatherer(g prometheus.Gatherer, l *zap.Logger) *gatherer {
	return &gatherer{
		g: g,
		l: l,
	}
}

// cached returns cached metrics if they are fresh enough.
func (g *gatherer) cached() ([]*dto.MetricFamily, bool) {
	if time.Since(g.last) < gatherInterval {
		return g.mfs, true
	}

	return nil, false
}

// Gather implements prometheus.Gatherer.
//
// It never returns an error; errors are logged, and no metrics are returned until the next gather.
func (g *gatherer) Gather() ([]*dto.MetricFamily, error) {
	g.rw.RLock()
	mfs, ok := g.cached()
	g.rw.RUnlock()

	if ok {
		return mfs, nil
	}

	g.rw.Lock()
	defer g.rw.Unlock()

	// another goroutine might have gathered already
	if mfs, ok = g.cached(); ok {
		return mfs, nil
	}

	mfs, err := g.g.Gather()
	if err != nil {
		g.l.Warn("Failed to gather Prometheus metrics.", zap.Error(err), zap.Int("families", len(mfs)))
		mfs = nil
	} else {
		g.l.Debug("Gathered Prometheus metrics.", zap.Int("families", len(mfs)))
	}

	g.mfs, g.last = mfs, time.Now()

	return mfs, nil
}

// check interfaces
var (
	_ prometheus.Gatherer = (*gatherer)(nil)
)
