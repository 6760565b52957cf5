package obs

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultLatencyBuckets spans cached cart reads up to carrier-bound quote and checkout
// calls, in milliseconds.
var DefaultLatencyBuckets = []float64{5, 15, 50, 150, 300, 600, 1200, 2500, 5000}

// HTTPMetrics groups the collectors fed by HTTPObs.
type HTTPMetrics struct {
	// ReqTotal is labelled by method, route pattern, status class and surface.
	ReqTotal *prometheus.CounterVec
	// ReqDur skips stream routes; a websocket's lifetime is not a latency.
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
	// Streams counts open session event streams.
	Streams prometheus.Gauge
}

// NewHTTPMetrics registers the HTTP collectors on reg, reusing any already registered
// under the same names.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = DefaultLatencyBuckets
	} else {
		sort.Float64s(buckets)
	}
	return &HTTPMetrics{
		ReqTotal: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, status class and surface.",
		}, []string{"method", "route", "class", "surface"})),
		ReqDur: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds, stream routes excluded.",
			Buckets:   buckets,
		}, []string{"method", "route", "surface"})),
		InFlight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Requests currently being served, streams excluded.",
		})),
		Streams: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_streams_open",
			Help:      "Open session event streams.",
		})),
	}
}

// StatusClass folds a status code into "2xx", "4xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// ParseBucketsCSV converts a comma-separated list of millisecond bounds, skipping
// anything that is not a positive number.
func ParseBucketsCSV(csv string) []float64 {
	var out []float64
	for _, part := range strings.Split(csv, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Errorf("register collector: %w", err))
}
