package stream_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/stream"
)

type received struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func serve(t *testing.T, h *stream.Handler) string {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/sessions/{sessionID}/stream", h.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamForwardsSessionEvents(t *testing.T) {
	hub := events.NewMemoryHub()
	bus := &events.Bus{Publisher: hub}
	h := &stream.Handler{
		Subscriber: hub,
		Snapshot: func(_ context.Context, id string) (any, error) {
			return map[string]string{"id": id}, nil
		},
	}
	id := uuid.NewString()
	conn, _, err := websocket.DefaultDialer.Dial(serve(t, h)+"/sessions/"+id+"/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first received
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, stream.TopicSnapshot, first.Topic)
	require.JSONEq(t, `{"id":"`+id+`"}`, string(first.Payload))

	_, err = bus.Emit(context.Background(), events.TopicCartChanged, uuid.NewString(), map[string]int{"badge": 9})
	require.NoError(t, err)
	_, err = bus.Emit(context.Background(), events.TopicCartChanged, id, map[string]int{"badge": 2})
	require.NoError(t, err)

	var next received
	require.NoError(t, conn.ReadJSON(&next))
	require.Equal(t, events.TopicCartChanged, next.Topic)
	require.JSONEq(t, `{"badge":2}`, string(next.Payload), "events of other sessions are not forwarded")
}

func TestStreamRejectsInvalidSession(t *testing.T) {
	h := &stream.Handler{Subscriber: events.NewMemoryHub()}
	r := chi.NewRouter()
	r.Get("/sessions/{sessionID}/stream", h.Serve)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/nope/stream", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamChecksOrigin(t *testing.T) {
	h := &stream.Handler{Subscriber: events.NewMemoryHub(), AllowedOrigins: []string{"https://shop.example"}}
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(serve(t, h)+"/sessions/"+uuid.NewString()+"/stream", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
