// Package metrics holds the Prometheus instruments of the seat board.  A nil
// *Metrics is valid and records nothing, which keeps tests free of registry
// setup.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	claims        *prometheus.CounterVec
	releases      *prometheus.CounterVec
	snapshotTime  prometheus.Histogram
	subscribers   prometheus.Gauge
	consumerMsgs  *prometheus.CounterVec
	publishErrors prometheus.Counter
}

// New creates the instruments and registers them on reg.  Tests pass a fresh
// prometheus.NewRegistry(); main adds the Go and process collectors to its own.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_http_requests_total",
			Help: "HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studyroom_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_seat_claims_total",
			Help: "Seat claims by result (ok, noop, occupied, unknown, permission, unavailable, error).",
		}, []string{"result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_seat_releases_total",
			Help: "Seat releases by result.",
		}, []string{"result"}),
		snapshotTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "studyroom_snapshot_duration_seconds",
			Help:    "Time to read a day of ledger events.",
			Buckets: prometheus.DefBuckets,
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studyroom_live_subscribers",
			Help: "Open live board subscriptions.",
		}),
		consumerMsgs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_usage_messages_total",
			Help: "seat.usage broker messages handled by outcome.",
		}, []string{"outcome"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studyroom_usage_publish_errors_total",
			Help: "Failed seat.usage publishes.",
		}),
	}
	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.claims,
		m.releases,
		m.snapshotTime,
		m.subscribers,
		m.consumerMsgs,
		m.publishErrors,
	)
	return m
}

// Middleware records request count and latency per echo route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *Metrics) Release(result string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(result).Inc()
}

func (m *Metrics) Snapshot(d time.Duration) {
	if m == nil {
		return
	}
	m.snapshotTime.Observe(d.Seconds())
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) UsageMessage(outcome string) {
	if m == nil {
		return
	}
	m.consumerMsgs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}
