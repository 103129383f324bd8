// Package metrics provides Prometheus metrics for the bridge
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/pkg/breaker"
)

// Metrics holds the bridge's Prometheus collectors
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ChannelCalls        *prometheus.CounterVec
	ChannelCallDuration *prometheus.HistogramVec
	EventsEmitted       *prometheus.CounterVec
	EventsDropped       *prometheus.CounterVec

	ControllersLive    *prometheus.GaugeVec
	ControllersCreated *prometheus.CounterVec
	AdLoads            *prometheus.CounterVec
	AdLoadDuration     *prometheus.HistogramVec
	LoadsInFlight      *prometheus.GaugeVec

	ExchangeCircuitState prometheus.Gauge
	RateLimitRejected    prometheus.Counter
	AuthFailures         prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all metrics on the default registry
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewRegistryMetrics creates metrics on a private registry
func NewRegistryMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry(namespace, reg, reg)
}

// factory builds collectors in one namespace and registers them as it goes
type factory struct {
	ns  string
	reg prometheus.Registerer
}

func (f factory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: f.ns, Name: name, Help: help})
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: f.ns, Name: name, Help: help}, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: f.ns, Name: name, Help: help})
	f.reg.MustRegister(g)
	return g
}

func (f factory) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: f.ns, Name: name, Help: help}, labels)
	f.reg.MustRegister(g)
	return g
}

func (f factory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: f.ns, Name: name, Help: help, Buckets: buckets}, labels)
	f.reg.MustRegister(h)
	return h
}

var (
	httpBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	callBuckets = []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5}
	loadBuckets = []float64{.05, .1, .25, .5, .75, 1, 1.5, 2, 3, 5}
)

// NewMetricsWithRegistry creates metrics registered on reg and served from g
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	if namespace == "" {
		namespace = "adbridge"
	}
	f := factory{ns: namespace, reg: reg}

	return &Metrics{
		RequestsTotal:    f.counterVec("http_requests_total", "HTTP requests by method, route and status", "method", "path", "status"),
		RequestDuration:  f.histogramVec("http_request_duration_seconds", "HTTP request duration", httpBuckets, "method", "path"),
		RequestsInFlight: f.gauge("http_requests_in_flight", "HTTP requests being served, event streams included"),

		ChannelCalls:        f.counterVec("channel_calls_total", "Method calls by method and result code", "method", "code"),
		ChannelCallDuration: f.histogramVec("channel_call_duration_seconds", "Time from method call to result", callBuckets, "method"),
		EventsEmitted:       f.counterVec("events_emitted_total", "Events emitted by controllers", "method"),
		EventsDropped:       f.counterVec("events_dropped_total", "Events lost to full queues or failed publishes", "sink"),

		ControllersLive:    f.gaugeVec("controllers_live", "Live ad controllers", "format"),
		ControllersCreated: f.counterVec("controllers_created_total", "Ad controllers created", "format"),
		AdLoads:            f.counterVec("ad_loads_total", "Completed ad loads by outcome", "format", "outcome"),
		AdLoadDuration:     f.histogramVec("ad_load_duration_seconds", "Ad load duration", loadBuckets, "format"),
		LoadsInFlight:      f.gaugeVec("ad_loads_in_flight", "Ad loads still running", "format"),

		ExchangeCircuitState: f.gauge("exchange_circuit_state", "Exchange circuit breaker state (0=closed, 1=open, 2=half-open)"),
		RateLimitRejected:    f.counter("rate_limit_rejected_total", "Method calls rejected by rate limiting"),
		AuthFailures:         f.counter("auth_failures_total", "Requests with a missing or unknown API key"),

		gatherer: g,
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware returns HTTP middleware that records request metrics.
// pathLabel maps a request to a bounded label; the raw path is used when nil.
func (m *Metrics) Middleware(pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.RequestsInFlight.Inc()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			m.RequestsInFlight.Dec()

			route := r.URL.Path
			if pathLabel != nil {
				route = pathLabel(r)
			}
			m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working behind the middleware
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RecordChannelCall records a method call and its result code
func (m *Metrics) RecordChannelCall(method, code string, duration time.Duration) {
	m.ChannelCalls.WithLabelValues(method, code).Inc()
	m.ChannelCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ControllerCreated implements controller.Observer
func (m *Metrics) ControllerCreated(format sdk.Format) {
	m.ControllersCreated.WithLabelValues(string(format)).Inc()
	m.ControllersLive.WithLabelValues(string(format)).Inc()
}

// ControllerDisposed implements controller.Observer
func (m *Metrics) ControllerDisposed(format sdk.Format) {
	m.ControllersLive.WithLabelValues(string(format)).Dec()
}

// LoadStarted implements controller.Observer
func (m *Metrics) LoadStarted(format sdk.Format) {
	m.LoadsInFlight.WithLabelValues(string(format)).Inc()
}

// LoadCompleted implements controller.Observer
func (m *Metrics) LoadCompleted(format sdk.Format, outcome string, elapsed time.Duration) {
	m.LoadsInFlight.WithLabelValues(string(format)).Dec()
	m.AdLoads.WithLabelValues(string(format), outcome).Inc()
	m.AdLoadDuration.WithLabelValues(string(format)).Observe(elapsed.Seconds())
}

// IncEventsEmitted implements events.Metrics
func (m *Metrics) IncEventsEmitted(method string) {
	m.EventsEmitted.WithLabelValues(method).Inc()
}

// IncEventsDropped implements events.Metrics
func (m *Metrics) IncEventsDropped(sink string) {
	m.EventsDropped.WithLabelValues(sink).Inc()
}

var circuitValues = map[breaker.State]float64{
	breaker.StateClosed:   0,
	breaker.StateOpen:     1,
	breaker.StateHalfOpen: 2,
}

// SetExchangeCircuitState sets the exchange circuit breaker state metric
func (m *Metrics) SetExchangeCircuitState(state breaker.State) {
	m.ExchangeCircuitState.Set(circuitValues[state])
}

// IncRateLimitRejected implements middleware.RateLimitMetrics
func (m *Metrics) IncRateLimitRejected() {
	m.RateLimitRejected.Inc()
}

// IncAuthFailures implements middleware.AuthMetrics
func (m *Metrics) IncAuthFailures() {
	m.AuthFailures.Inc()
}
