// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wellnest_http_requests_total",
		Help: "HTTP requests by route pattern, method and status class",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wellnest_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route"})

	CompletionsLogged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wellnest_completions_logged_total",
		Help: "Habit completions logged, by whether they counted as a new day",
	}, []string{"counted"})

	XPAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wellnest_xp_awarded_total",
		Help: "XP granted by logged completions",
	})

	LevelUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wellnest_level_ups_total",
		Help: "Level increases triggered by logged completions",
	})

	GroupJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wellnest_group_joins_total",
		Help: "Students joining a group by code",
	})

	ReportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wellnest_report_duration_seconds",
		Help:    "Time spent building progress reports",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"report"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func CountedLabel(counted bool) string {
	if counted {
		return "true"
	}
	return "false"
}
