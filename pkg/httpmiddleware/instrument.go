package httpmiddleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrument records per-request count and latency against the application
// meter and echoes the active trace id in a response header so clients can
// reference it in support requests.
func Instrument(serviceName string, mp metric.MeterProvider) Middleware {
	meter := mp.Meter(serviceName)
	requests, _ := meter.Int64Counter("http.server.requests")
	latency, _ := meter.Float64Histogram("http.server.duration",
		metric.WithUnit("ms"),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				w.Header().Set("Trace-Id", sc.TraceID().String())
			}

			next.ServeHTTP(rec, r)

			attrs := metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.Int("http.status_code", rec.status),
			)
			requests.Add(r.Context(), 1, attrs)
			latency.Record(r.Context(), float64(time.Since(start).Milliseconds()), attrs)
		})
	}
}
