// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import "github.com/prometheus/client_golang/prometheus"

// Metrics contains Prometheus instruments for the plugin runtime.
type Metrics struct {
	LoadsTotal    *prometheus.CounterVec
	LoadDuration  *prometheus.HistogramVec
	HookFailures  *prometheus.CounterVec
	RenderCrashes *prometheus.CounterVec
}

// NewMetrics creates and registers the runtime metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelkit_plugin_loads_total",
				Help: "Total plugin load attempts by outcome and error kind",
			},
			[]string{"outcome", "kind"},
		),
		LoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panelkit_plugin_load_duration_seconds",
				Help:    "Plugin load pipeline duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		HookFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelkit_plugin_hook_failures_total",
				Help: "Total swallowed plugin hook failures by hook",
			},
			[]string{"hook"},
		),
		RenderCrashes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panelkit_plugin_render_crashes_total",
				Help: "Total render-time crashes contained by the boundary",
			},
			[]string{"plugin"},
		),
	}

	reg.MustRegister(m.LoadsTotal, m.LoadDuration, m.HookFailures, m.RenderCrashes)
	return m
}

// observeLoad records a load outcome. Nil receivers are allowed so slots
// without metrics wiring stay cheap.
func (m *Metrics) observeLoad(outcome string, kind ErrorKind, seconds float64) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(outcome, string(kind)).Inc()
	m.LoadDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) observeHookFailure(hook string) {
	if m == nil {
		return
	}
	m.HookFailures.WithLabelValues(hook).Inc()
}

func (m *Metrics) observeRenderCrash(pluginID string) {
	if m == nil {
		return
	}
	m.RenderCrashes.WithLabelValues(pluginID).Inc()
}
