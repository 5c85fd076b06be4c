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
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Registry maps normalized database paths to the lock state shared by all their connections.
//
// Entries are reference-counted by connections:
// an entry is created by the first Connect to a path
// and removed when the last connection to it is closed or garbage collected.
//
// Registry is safe for concurrent use.
//
//nolint:vet // for readability
type Registry struct {
	l *zap.Logger

	rw     sync.Mutex
	states map[string]*sharedState
	closed bool

	conns atomic.Int64

	m *metrics
}

// NewRegistryOpts represents options for NewRegistry.
type NewRegistryOpts struct {
	L *zap.Logger
}

// NewRegistry creates a new registry.
func NewRegistry(opts *NewRegistryOpts) *Registry {
	if opts == nil {
		opts = new(NewRegistryOpts)
	}

	l := opts.L
	if l == nil {
		l = zap.NewNop()
	}

	return &Registry{
		l:      l,
		states: map[string]*sharedState{},
		m:      newMetrics(),
	}
}

// getOrCreate returns the state for the given normalized path, creating it if needed,
// and takes a reference to it.
//
// In-memory databases always get a new state that is not stored.
func (r *Registry) getOrCreate(path string) (*sharedState, error) {
	r.rw.Lock()
	defer r.rw.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	if path == MemoryPath {
		return newSharedState(path), nil
	}

	s := r.states[path]
	if s == nil {
		s = newSharedState(path)
		r.states[path] = s

		r.l.Debug("Shared state created.", zap.String("path", path))
	}

	s.refs++

	return s, nil
}

// release drops a reference taken by getOrCreate.
// The state is removed when the last reference is dropped.
func (r *Registry) release(s *sharedState) {
	if s.memory {
		return
	}

	r.rw.Lock()
	defer r.rw.Unlock()

	s.refs--

	switch {
	case s.refs > 0:
		return
	case s.refs < 0:
		panic("s3m.Registry: negative reference count for " + s.path)
	}

	if r.states[s.path] == s {
		delete(r.states, s.path)
	}

	r.l.Debug("Shared state removed.", zap.String("path", s.path))
}

// Len returns the number of paths with at least one connection.
func (r *Registry) Len() int {
	r.rw.Lock()
	defer r.rw.Unlock()

	return len(r.states)
}

// Paths returns a sorted list of paths with at least one connection.
func (r *Registry) Paths() []string {
	r.rw.Lock()
	res := maps.Keys(r.states)
	r.rw.Unlock()

	slices.Sort(res)

	return res
}

// Close prevents new connections.
//
// Existing connections continue to work; their shared state is removed as they are closed.
func (r *Registry) Close() {
	r.rw.Lock()
	defer r.rw.Unlock()

	if r.closed {
		return
	}

	r.closed = true

	if n := len(r.states); n > 0 {
		r.l.Warn("Registry closed with open connections.", zap.Int("paths", n), zap.Int64("connections", r.conns.Load()))
	}
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- pathsDesc
	ch <- connectionsDesc
	r.m.Describe(ch)
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(pathsDesc, prometheus.GaugeValue, float64(r.Len()))
	ch <- prometheus.MustNewConstMetric(connectionsDesc, prometheus.GaugeValue, float64(r.conns.Load()))
	r.m.Collect(ch)
}

var (
	pathsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "registry", "paths"),
		"The number of database paths with open connections.",
		nil, nil,
	)
	connectionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "registry", "connections"),
		"The number of open connections, including in-memory ones.",
		nil, nil,
	)
)

// check interfaces
var (
	_ prometheus.Collector = (*Registry)(nil)
)
