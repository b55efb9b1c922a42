/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package loop

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ticksTotal         *prometheus.CounterVec
	discoveredServices prometheus.Gauge
	publishedSources   prometheus.Gauge
	lastSuccess        prometheus.Gauge
	tickDuration       prometheus.Histogram
}

// newMetrics builds and registers the loop's metrics. A nil registerer
// falls back to the default registry.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &metrics{
		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshd_discovery_ticks_total",
				Help: "Discovery ticks by outcome (success, failure).",
			},
			[]string{"outcome"},
		),
		discoveredServices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshd_discovered_services",
				Help: "Services returned by the last discovery pass.",
			},
		),
		publishedSources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshd_published_sources",
				Help: "Federated sources in the last published mesh configuration.",
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshd_last_successful_tick_timestamp_seconds",
				Help: "Unix time of the last successful discovery tick.",
			},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshd_tick_duration_seconds",
				Help:    "Duration of the full discover-probe-update sequence.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(m.ticksTotal, m.discoveredServices, m.publishedSources, m.lastSuccess, m.tickDuration)
	return m
}
