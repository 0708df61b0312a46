// Package metrics records pipeline stage timings and validator rejections
// in a Prometheus registry owned by the process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vision-tutor/internal/domain"
)

type Metrics struct {
	registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	StageTotal    *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vision_tutor_stage_duration_seconds",
				Help:    "Duration of pipeline stages",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		StageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_tutor_stage_total",
				Help: "Pipeline stage executions by outcome",
			},
			[]string{"stage", "outcome"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_tutor_audio_rejections_total",
				Help: "Audio files rejected by the validator",
			},
			[]string{"kind"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_tutor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.StageDuration,
		m.StageTotal,
		m.Rejections,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.StageTotal.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveRejection(kind domain.ErrorKind) {
	m.Rejections.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
