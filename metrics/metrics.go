/*
Copyright 2016 Google Inc. All Rights Reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes Prometheus counters for traces mined in real
// time mode.
package metrics

import (
	"net/http"
	"time"

	"github.com/borisdali/tracecollier/miner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Trace outcomes used as the status label.
const (
	StatusMined  = "mined"
	StatusFailed = "failed"
)

// Collector holds the tracecollier metrics on a registry of its own.
type Collector struct {
	tracesTotal     *prometheus.CounterVec
	linesTotal      prometheus.Counter
	execsTotal      *prometheus.CounterVec
	narrativesTotal prometheus.Counter
	mineDuration    prometheus.Histogram
	pendingTraces   prometheus.Gauge
	registry        *prometheus.Registry
}

// NewCollector creates a Collector and registers its metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	tracesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracecollier_traces_total",
			Help: "Trace files mined by outcome",
		},
		[]string{"status"},
	)
	linesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracecollier_lines_total",
		Help: "Trace lines read",
	})
	execsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracecollier_execs_total",
			Help: "EXEC records by whether they were reported or skipped for depth",
		},
		[]string{"result"},
	)
	narrativesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracecollier_narratives_total",
		Help: "Errors, deadlocks and transaction ends reported",
	})
	mineDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracecollier_mine_duration_seconds",
		Help:    "Time taken to mine one trace file",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 120.0, 600.0},
	})
	pendingTraces := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracecollier_pending_traces",
		Help: "Trace files waiting to settle before mining",
	})

	registry.MustRegister(tracesTotal, linesTotal, execsTotal, narrativesTotal, mineDuration, pendingTraces)

	return &Collector{
		tracesTotal:     tracesTotal,
		linesTotal:      linesTotal,
		execsTotal:      execsTotal,
		narrativesTotal: narrativesTotal,
		mineDuration:    mineDuration,
		pendingTraces:   pendingTraces,
		registry:        registry,
	}
}

// RecordTrace records the outcome of mining one trace. Stats of a failed
// scan still count for what was read before the failure.
func (c *Collector) RecordTrace(st miner.Stats, d time.Duration, err error) {
	status := StatusMined
	if err != nil {
		status = StatusFailed
	}
	c.tracesTotal.WithLabelValues(status).Inc()
	c.linesTotal.Add(float64(st.Lines))
	c.execsTotal.WithLabelValues("reported").Add(float64(st.Execs))
	c.execsTotal.WithLabelValues("skipped").Add(float64(st.Skipped))
	c.narrativesTotal.Add(float64(st.Narratives))
	c.mineDuration.Observe(d.Seconds())
}

// SetPending sets the number of traces waiting to settle.
func (c *Collector) SetPending(n int) {
	c.pendingTraces.Set(float64(n))
}

// Registry returns the Prometheus registry for HTTP exposure.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
