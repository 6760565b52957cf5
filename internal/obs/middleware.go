package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusRecorder wraps ResponseWriter to capture status code and bytes written.
type StatusRecorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

// NewStatusRecorder constructs a status recorder with default 200 status.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader stores the status code before delegating.
func (sr *StatusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Write records the number of bytes written.
func (sr *StatusRecorder) Write(p []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(p)
	sr.bytesWritten += int64(n)
	return n, err
}

// Status returns the response status code.
func (sr *StatusRecorder) Status() int { return sr.status }

// BytesWritten returns the number of bytes written to the client.
func (sr *StatusRecorder) BytesWritten() int64 { return sr.bytesWritten }

// Hijack lets websocket upgrades pass through the recorder.
func (sr *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("obs: response writer does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Flush implements http.Flusher when the wrapped writer does.
func (sr *StatusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPObs instruments HTTP handlers with metrics.
type HTTPObs struct {
	Metrics *HTTPMetrics
}

// Middleware counts every request by route and surface. Stream routes feed the
// Streams gauge instead of the latency histogram.
func (o HTTPObs) Middleware(next http.Handler) http.Handler {
	if o.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := NewStatusRecorder(w)
		streaming := websocket.IsWebSocketUpgrade(r)
		if streaming {
			o.Metrics.Streams.Inc()
			defer o.Metrics.Streams.Dec()
		} else {
			o.Metrics.InFlight.Inc()
			defer o.Metrics.InFlight.Dec()
		}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := RouteOf(r)
		o.Metrics.ReqTotal.WithLabelValues(r.Method, route.Pattern, StatusClass(recorder.Status()), route.Surface).Inc()
		if route.Surface != SurfaceStream {
			o.Metrics.ReqDur.WithLabelValues(r.Method, route.Pattern, route.Surface).Observe(DurationMillis(time.Since(start)))
		}
	})
}

// TracingMiddleware starts a span per request and names it after the matched route
// once routing is done. Session routes carry the session id as an attribute.
func TracingMiddleware(next http.Handler) http.Handler {
	tracer := Tracer("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		recorder := NewStatusRecorder(w)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		route := RouteOf(r.WithContext(ctx))
		span.SetName(r.Method + " " + route.Pattern)
		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("http.route", route.Pattern),
			attribute.String("url.path", r.URL.Path),
			attribute.Int("http.response.status_code", recorder.Status()),
			attribute.String("checkout.surface", route.Surface),
		)
		if route.SessionID != "" {
			span.SetAttributes(attribute.String("checkout.session_id", route.SessionID))
		}
		if recorder.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.Status()))
		}
	})
}
