package observability

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Metrics holds the Prometheus collectors for the service. A nil *Metrics
// records nothing.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	// Inventory
	TransitionsTotal *prometheus.CounterVec
	LockWait         *prometheus.HistogramVec

	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workshop",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "workshop",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "workshop",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workshop",
				Name:      "transitions_total",
				Help:      "Item check-in/check-out attempts by action and result kind.",
			},
			[]string{"action", "result"}, // result=ok or an error kind
		),
		LockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "workshop",
				Subsystem: "lock",
				Name:      "wait_seconds",
				Help:      "Time spent waiting for a per-item lock.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"result"}, // result=acquired|timeout|canceled|error
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "workshop",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "workshop",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestsDuration, m.InFlight, m.TransitionsTotal, m.LockWait, m.DbQueryDuration, m.DbErrorsTotal)

	return m
}

func (m *Metrics) ObserveTransition(action, result string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ObserveLockWait(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestsDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// ObserveDB runs fn and records its latency and error class under op.
func (m *Metrics) ObserveDB(op string, fn func() error) error {
	if m == nil {
		return fn()
	}

	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil {
		status = "error"
		m.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
	}
	m.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

func classifyDBErr(err error) string {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return "unique_violation"
		case sqlite3.SQLITE_BUSY:
			return "busy"
		case sqlite3.SQLITE_LOCKED:
			return "locked"
		default:
			return "sqlite_" + strconv.Itoa(se.Code()&0xff)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "canceled"):
		return "canceled"
	default:
		return "unknown"
	}
}
