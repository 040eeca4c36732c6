package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "supplychain",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supplychain",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "supplychain",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supplychain",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of mutating ledger operations by outcome.",
		},
		[]string{"operation", "result"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "supplychain",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of mutating ledger operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation"},
	)

	settlements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "supplychain",
			Subsystem: "escrow",
			Name:      "settlements_total",
			Help:      "Total number of committed settlements.",
		},
	)

	settledAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "supplychain",
			Subsystem: "escrow",
			Name:      "settled_amount_total",
			Help:      "Sum of settled amounts in minor units.",
		},
	)

	sweeperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supplychain",
			Subsystem: "jobs",
			Name:      "expiry_sweeps_total",
			Help:      "Total number of expiry sweeps.",
		},
		[]string{"success"},
	)

	sweeperExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "supplychain",
			Subsystem: "jobs",
			Name:      "expired_products_total",
			Help:      "Total number of products forced to Expired by the sweeper.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		operations,
		operationDuration,
		settlements,
		settledAmount,
		sweeperRuns,
		sweeperExpired,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOperation records the outcome of one mutating operation. result is
// "ok" or the error code.
func RecordOperation(operation, result string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = "ok"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	operations.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSettlement records a committed settlement.
func RecordSettlement(amount int64) {
	settlements.Inc()
	if amount > 0 {
		settledAmount.Add(float64(amount))
	}
}

// RecordSweep records one expiry sweep.
func RecordSweep(expired int, success bool) {
	result := "false"
	if success {
		result = "true"
	}
	sweeperRuns.WithLabelValues(result).Inc()
	if expired > 0 {
		sweeperExpired.Add(float64(expired))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath collapses ids and account names so label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "products":
		if len(parts) == 1 {
			return "/products"
		}
		if len(parts) == 2 {
			return "/products/:id"
		}
		return "/products/:id/" + parts[2]
	case "accounts":
		if len(parts) == 1 {
			return "/accounts"
		}
		if len(parts) == 2 {
			return "/accounts/:account"
		}
		return "/accounts/:account/" + parts[2]
	case "admins":
		if len(parts) > 1 {
			return "/admins/:account"
		}
		return "/admins"
	}
	if len(parts) > 1 {
		return "/" + parts[0] + "/" + parts[1]
	}
	return "/" + parts[0]
}
