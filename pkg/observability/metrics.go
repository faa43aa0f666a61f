package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Flow metrics: one login attempt per protocol/provider, labeled by
	// how it ended (allowed, denied, error)
	FlowsTotal *prometheus.CounterVec

	// Upstream provider metrics
	UpstreamExchangesTotal   *prometheus.CounterVec
	UpstreamExchangeDuration *prometheus.HistogramVec
	UpstreamErrorsTotal      *prometheus.CounterVec

	// Credential metrics
	ClientsRegisteredTotal prometheus.Counter
	TokensIssuedTotal      *prometheus.CounterVec
	TokenFailuresTotal     *prometheus.CounterVec

	// SAML metrics
	SAMLResponsesTotal     *prometheus.CounterVec
	SAMLSigningErrorsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broker_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broker_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Flow metrics
		FlowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_flows_total",
				Help: "Total number of login flows by outcome",
			},
			[]string{"protocol", "provider", "outcome"},
		),

		// Upstream provider metrics
		UpstreamExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_upstream_exchanges_total",
				Help: "Total number of upstream code exchanges",
			},
			[]string{"provider", "status"},
		),
		UpstreamExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broker_upstream_exchange_duration_seconds",
				Help:    "Upstream code exchange duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		UpstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_upstream_errors_total",
				Help: "Total number of upstream provider errors",
			},
			[]string{"provider"},
		),

		// Credential metrics
		ClientsRegisteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "broker_clients_registered_total",
				Help: "Total number of dynamic client registrations",
			},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_tokens_issued_total",
				Help: "Total number of issued tokens by kind",
			},
			[]string{"kind"},
		),
		TokenFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_token_failures_total",
				Help: "Total number of rejected token requests",
			},
			[]string{"reason"},
		),

		// SAML metrics
		SAMLResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_saml_responses_total",
				Help: "Total number of SAML responses by status",
			},
			[]string{"status"},
		),
		SAMLSigningErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "broker_saml_signing_errors_total",
				Help: "Total number of SAML response signing failures",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.FlowsTotal,
		m.UpstreamExchangesTotal,
		m.UpstreamExchangeDuration,
		m.UpstreamErrorsTotal,
		m.ClientsRegisteredTotal,
		m.TokensIssuedTotal,
		m.TokenFailuresTotal,
		m.SAMLResponsesTotal,
		m.SAMLSigningErrorsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
