package obs

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics groups Prometheus collectors for HTTP observability.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics registers and returns HTTP metrics collectors.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}
	} else {
		sort.Float64s(buckets)
	}
	m := &HTTPMetrics{
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   buckets,
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
	registerCounterVec(reg, &m.ReqTotal)
	registerHistogramVec(reg, &m.ReqDur)
	registerGauge(reg, &m.InFlight)
	return m
}

// DomainMetrics groups collectors for the payment round trip itself.
type DomainMetrics struct {
	// Outcomes counts applied payment outcomes by terminal result.
	Outcomes *prometheus.CounterVec
	// Rejects counts refused callbacks by which check failed.
	Rejects *prometheus.CounterVec
	// RequestsBuilt counts sealed gateway requests assembled.
	RequestsBuilt prometheus.Counter
}

// NewDomainMetrics registers and returns payment domain collectors.
func NewDomainMetrics(namespace string, reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &DomainMetrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_outcomes_total",
			Help:      "Count of payment outcomes applied from gateway callbacks.",
		}, []string{"outcome"}),
		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_rejects_total",
			Help:      "Count of refused gateway callbacks by failing check.",
		}, []string{"reason"}),
		RequestsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_built_total",
			Help:      "Count of sealed gateway requests assembled.",
		}),
	}
	registerCounterVec(reg, &m.Outcomes)
	registerCounterVec(reg, &m.Rejects)
	registerCounter(reg, &m.RequestsBuilt)
	return m
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func registerCounterVec(reg prometheus.Registerer, c **prometheus.CounterVec) {
	if err := reg.Register(*c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				*c = existing
				return
			}
		}
		panic(fmt.Errorf("register counter: %w", err))
	}
}

func registerHistogramVec(reg prometheus.Registerer, h **prometheus.HistogramVec) {
	if err := reg.Register(*h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				*h = existing
				return
			}
		}
		panic(fmt.Errorf("register histogram: %w", err))
	}
}

func registerCounter(reg prometheus.Registerer, c *prometheus.Counter) {
	if err := reg.Register(*c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				*c = existing
				return
			}
		}
		panic(fmt.Errorf("register counter: %w", err))
	}
}

func registerGauge(reg prometheus.Registerer, g *prometheus.Gauge) {
	if err := reg.Register(*g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				*g = existing
				return
			}
		}
		panic(fmt.Errorf("register gauge: %w", err))
	}
}
