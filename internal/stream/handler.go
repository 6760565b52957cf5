// Package stream pushes session events to browser tabs over websockets so that every
// open view of a cart re-renders after a change made in another one.
package stream

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/events"
)

// TopicSnapshot labels the first frame of every stream.
const TopicSnapshot = "session.snapshot"

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxReadSize  = 512
)

// Frame is what a stream client receives.
type Frame struct {
	Topic      string    `json:"topic"`
	EventID    string    `json:"eventId,omitempty"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Handler upgrades GET /sessions/{sessionID}/stream.
type Handler struct {
	Subscriber events.Subscriber
	// Snapshot renders the current session state sent as the first frame; optional.
	Snapshot func(ctx context.Context, sessionID string) (any, error)
	// AllowedOrigins lists browser origins allowed to connect; empty allows any.
	AllowedOrigins []string
	Logger         *zerolog.Logger
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Serve streams events of one session until either side goes away.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	parsed, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "sessionID")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return
	}
	sessionID := parsed.String()
	log := h.logger().With().Str("session_id", sessionID).Logger()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	feed, stop, err := h.Subscriber.Subscribe(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("subscribe session events")
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeProvider, "event stream unavailable", nil)
		return
	}
	defer stop()

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	defer func() { _ = conn.Close() }()

	if h.Snapshot != nil {
		view, err := h.Snapshot(ctx, sessionID)
		if err != nil {
			log.Warn().Err(err).Msg("render initial snapshot")
		} else if err := write(conn, Frame{Topic: TopicSnapshot, Payload: view, OccurredAt: time.Now().UTC()}); err != nil {
			return
		}
	}

	go readPump(conn, cancel)
	h.writePump(ctx, conn, feed, log)
}

// readPump drains control frames and cancels the stream once the client is gone.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, feed <-chan events.Event, log zerolog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			frame := Frame{Topic: ev.Topic, EventID: ev.ID, Payload: ev.Payload, OccurredAt: ev.OccurredAt}
			if err := write(conn, frame); err != nil {
				log.Debug().Err(err).Str("topic", ev.Topic).Msg("stream write")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, frame Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

func (h *Handler) logger() *zerolog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
