package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/obs"
)

func instrumentedRouter(t *testing.T, metrics *obs.HTTPMetrics, stream http.HandlerFunc) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/api/v1", func(v chi.Router) {
		v.Post("/sessions/{sessionID}/city/query", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
		if stream != nil {
			v.Get("/sessions/{sessionID}/stream", stream)
		}
	})
	return r
}

func TestHTTPMetricsLabelsSessionRoutes(t *testing.T) {
	metrics := obs.NewHTTPMetrics("toko", []float64{1, 10}, prometheus.NewRegistry())
	router := instrumentedRouter(t, metrics, nil)

	for _, id := range []string{"s-1", "s-2"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/city/query", nil))
		require.Equal(t, http.StatusAccepted, rr.Code)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/v1/sessions/{sessionID}/city/query", "2xx", obs.SurfaceSession)),
		"session ids never become label values")
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/health/ready", "2xx", obs.SurfaceOps)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unmatched", "4xx", obs.SurfaceOps)))
	require.Equal(t, 3, testutil.CollectAndCount(metrics.ReqTotal))
	require.Equal(t, 3, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
}

func TestHTTPMetricsCountsOpenStreams(t *testing.T) {
	metrics := obs.NewHTTPMetrics("toko", nil, prometheus.NewRegistry())
	var open float64
	router := instrumentedRouter(t, metrics, func(w http.ResponseWriter, r *http.Request) {
		open = testutil.ToFloat64(metrics.Streams)
		w.WriteHeader(http.StatusSwitchingProtocols)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-1/stream", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1.0, open)
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.Streams))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/sessions/{sessionID}/stream", "1xx", obs.SurfaceStream)))
	require.Equal(t, 0, testutil.CollectAndCount(metrics.ReqDur), "stream lifetimes stay out of latency")
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("toko", nil, reg)
	second := obs.NewHTTPMetrics("toko", nil, reg)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 50, 500}, obs.ParseBucketsCSV(" 5, 50,,abc,-1,500"))
	require.Nil(t, obs.ParseBucketsCSV(""))
}

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", obs.StatusClass(http.StatusNoContent))
	require.Equal(t, "5xx", obs.StatusClass(http.StatusBadGateway))
	require.Equal(t, "unknown", obs.StatusClass(0))
}
