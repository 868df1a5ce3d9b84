// Package metrics provides Prometheus middlewares for the web service.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type label string

// LabelPath is the context key holding the path label of a request.
const LabelPath label = "path"

// unknownPath labels requests whose handler did not apply a path label.
const unknownPath = "unknown"

// EndpointMiddleware collects request metrics per endpoint.
type EndpointMiddleware struct {
	buckets  []float64
	registry prometheus.Registerer
}

// NewEndpointMiddleware creates an EndpointMiddleware registering its collectors on registry.
func NewEndpointMiddleware(registry prometheus.Registerer) *EndpointMiddleware {
	return &EndpointMiddleware{
		// Read requests over a snapshot of at most a few thousand reports: 5ms to ~10s.
		buckets:  prometheus.ExponentialBuckets(0.005, 2, 12),
		registry: registry,
	}
}

// Wrap instruments handler with request count, duration and response size metrics labeled with handlerName.
func (m *EndpointMiddleware) Wrap(handlerName string, handler http.Handler) http.HandlerFunc {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"handler": handlerName}, m.registry)
	labels := []string{"method", "code", string(LabelPath)}

	requestsTotal := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "ais_http_requests_total",
		Help: "Number of HTTP requests served by the endpoint.",
	}, labels)
	requestDuration := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ais_http_request_duration_seconds",
		Help:    "Latency of the HTTP requests served by the endpoint.",
		Buckets: m.buckets,
	}, labels)
	responseSize := promauto.With(reg).NewSummaryVec(prometheus.SummaryOpts{
		Name: "ais_http_response_size_bytes",
		Help: "Size of the HTTP responses of the endpoint.",
	}, labels)

	withPath := promhttp.WithLabelFromCtx(string(LabelPath), pathLabelFromCtx)
	return promhttp.InstrumentHandlerCounter(requestsTotal,
		promhttp.InstrumentHandlerDuration(requestDuration,
			promhttp.InstrumentHandlerResponseSize(responseSize, handler, withPath),
			withPath),
		withPath)
}

// MuxMiddleware counts every request reaching the router, routed or not.
type MuxMiddleware struct {
	registry prometheus.Registerer
}

// NewMuxMiddleware creates a MuxMiddleware registering its collectors on registry.
func NewMuxMiddleware(registry prometheus.Registerer) *MuxMiddleware {
	return &MuxMiddleware{registry: registry}
}

// Wrap instruments handler with a request counter labeled with handlerName.
func (m *MuxMiddleware) Wrap(handlerName string, handler http.Handler) http.HandlerFunc {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"handler": handlerName}, m.registry)

	requestsTotal := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "ais_http_mux_requests_total",
		Help: "Number of HTTP requests received by the router.",
	}, []string{"method", "code"})

	return promhttp.InstrumentHandlerCounter(requestsTotal, handler)
}

func pathLabelFromCtx(ctx context.Context) string {
	if path, ok := ctx.Value(LabelPath).(string); ok {
		return path
	}
	return unknownPath
}

// ApplyLabels stores the path label of r in its context.
// Handlers call it first so that instrumentation sees the label.
func ApplyLabels(r *http.Request) {
	*r = *r.WithContext(context.WithValue(r.Context(), LabelPath, r.URL.Path))
}
