package odata

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records OData request counts and latencies.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the request metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odata_requests_total",
			Help: "OData requests by method, request kind and status code.",
		}, []string{"method", "kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odata_request_duration_seconds",
			Help:    "OData request latency by method and request kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "kind"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(method, kind string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if status == 0 {
		status = 200
	}
	m.requests.WithLabelValues(method, kind, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, kind).Observe(elapsed.Seconds())
}
