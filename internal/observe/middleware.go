package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedPath replaces the request path on 404 responses so scanners
// cannot grow the path label without bound.
const unmatchedPath = "unmatched"

// pollPaths are polled by Prometheus and orchestrators; their requests are
// logged at debug level only.
var pollPaths = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

// statusWriter remembers the status code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument wraps next so every request to the observability server joins
// the caller's W3C trace (or starts one), answers with X-Correlation-ID, is
// timed into sri.http.request.duration and is logged once. Failed readiness
// checks are logged as warnings.
func instrument(m *Metrics, next http.Handler) http.Handler {
	prop := propagation.TraceContext{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		cid := CorrelationID(ctx)
		if cid != "" {
			w.Header().Set("X-Correlation-ID", cid)
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		elapsed := time.Since(start)

		path := r.URL.Path
		if sw.status == http.StatusNotFound {
			path = unmatchedPath
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
		if m != nil {
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", path),
				))
		}

		lvl := slog.LevelInfo
		switch {
		case sw.status >= http.StatusInternalServerError:
			lvl = slog.LevelWarn
		case pollPaths[r.URL.Path]:
			lvl = slog.LevelDebug
		}
		slog.LogAttrs(ctx, lvl, "observe: http request",
			slog.String("trace_id", cid),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", elapsed),
		)
	})
}
