package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seido/portal/core/grading"
)

const (
	metricsNamespace = "seido"

	methodLabel = "method"
	pathLabel   = "path"
	statusLabel = "status"
	resultLabel = "result"
)

// Metrics collects the API metrics. It is a grading.Observer.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GradingApplications prometheus.Counter
	GradingDecisions    *prometheus.CounterVec
}

var _ grading.Observer = (*Metrics)(nil) // interface compliance check

func NewMetrics() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Number of HTTP requests handled",
		},
		[]string{methodLabel, pathLabel, statusLabel},
	)
	m.Registry.MustRegister(m.HTTPRequests)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{methodLabel, pathLabel},
	)
	m.Registry.MustRegister(m.HTTPRequestDuration)

	m.GradingApplications = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "grading",
		Name:      "applications_total",
		Help:      "Number of grading applications submitted",
	})
	m.Registry.MustRegister(m.GradingApplications)

	m.GradingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "grading",
			Name:      "decisions_total",
			Help:      "Number of grading results recorded",
		},
		[]string{resultLabel},
	)
	m.Registry.MustRegister(m.GradingDecisions)

	m.Registry.MustRegister(collectors.NewGoCollector())
	return m
}

// Middleware records the count and duration of requests, by route path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err) // commits the response, so the status is known
			}

			path := ctx.Path()
			if path == "" {
				path = "unknown"
			}
			status := strconv.Itoa(ctx.Response().Status)
			m.HTTPRequests.With(prometheus.Labels{
				methodLabel: ctx.Request().Method,
				pathLabel:   path,
				statusLabel: status,
			}).Inc()
			m.HTTPRequestDuration.With(prometheus.Labels{
				methodLabel: ctx.Request().Method,
				pathLabel:   path,
			}).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ApplicationSubmitted(grading.Grading) {
	m.GradingApplications.Inc()
}

func (m *Metrics) ResultRecorded(g grading.Grading) {
	m.GradingDecisions.With(prometheus.Labels{resultLabel: g.Status}).Inc()
}
