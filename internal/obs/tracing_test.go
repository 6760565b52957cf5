package obs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/noah-isme/toko-checkout/internal/obs"
)

func attrsOf(kvs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestTracingResourceDescribesCheckout(t *testing.T) {
	res, err := obs.TracingResource(context.Background(), obs.TracingConfig{
		ServiceVersion: "1.4.0",
		Environment:    "staging",
		OriginCityCode: "44",
		Currency:       "RUB",
	})
	require.NoError(t, err)

	attrs := attrsOf(res.Attributes())
	require.Equal(t, obs.ServiceName, attrs["service.name"])
	require.Equal(t, "1.4.0", attrs["service.version"])
	require.Equal(t, "staging", attrs["deployment.environment"])
	require.Equal(t, "44", attrs["checkout.origin_city_code"])
	require.Equal(t, "RUB", attrs["checkout.currency"])
}

func TestTracingMiddlewareNamesSpanAfterRoute(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := chi.NewRouter()
	r.Use(obs.TracingMiddleware)
	r.Post("/api/v1/sessions/{sessionID}/checkout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-9/checkout", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "POST /api/v1/sessions/{sessionID}/checkout", span.Name())
	attrs := attrsOf(span.Attributes())
	require.Equal(t, "s-9", attrs["checkout.session_id"])
	require.Equal(t, obs.SurfaceSession, attrs["checkout.surface"])
	require.Equal(t, "502", attrs["http.response.status_code"])
	require.Equal(t, "Error", span.Status().Code.String())
}
