// Package metrics holds the Prometheus collectors shared by the renderer
// components. They register on the default registry and are served at
// /metrics by the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	Dispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonview_items_dispatched_total",
			Help: "Content items dispatched, by item type",
		},
		[]string{"type"},
	)

	WidgetLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonview_widget_loads_total",
			Help: "Widget loader executions, by widget and result",
		},
		[]string{"widget", "result"},
	)

	WidgetLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessonview_widget_load_duration_seconds",
			Help:    "Duration of widget loader executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"widget"},
	)

	DiagramRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonview_diagram_renders_total",
			Help: "Diagram service invocations, by result",
		},
		[]string{"result"},
	)

	ClipboardWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonview_clipboard_writes_total",
			Help: "Copy-to-clipboard attempts, by result",
		},
		[]string{"result"},
	)

	TerminalRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonview_terminal_runs_total",
			Help: "Simulated terminal runs started, by effect",
		},
		[]string{"effect"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lessonview_views_active",
			Help: "Lesson views currently mounted",
		},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lessonview_http_rate_limited_total",
			Help: "HTTP requests rejected by the per-IP rate limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Dispatched,
		WidgetLoads,
		WidgetLoadDuration,
		DiagramRenders,
		ClipboardWrites,
		TerminalRuns,
		ActiveSessions,
		RateLimited,
	)
}

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// ObserveWidgetLoad records one loader execution.
func ObserveWidgetLoad(name string, started time.Time, err error) {
	WidgetLoads.WithLabelValues(name, Result(err)).Inc()
	WidgetLoadDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
}
