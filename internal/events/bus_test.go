package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/events"
)

type captureNotifier struct {
	events []events.Event
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

func TestEmitFansOut(t *testing.T) {
	hub := events.NewMemoryHub()
	notifier := &captureNotifier{}
	bus := events.Bus{Publisher: hub, Notifiers: []events.Notifier{notifier}}

	ctx := context.Background()
	stream, stop, err := hub.Subscribe(ctx, "s-1")
	require.NoError(t, err)
	defer stop()

	ev, err := bus.Emit(ctx, events.TopicCartChanged, "s-1", map[string]any{"cameraCount": 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"cameraCount":1}`, string(ev.Payload))
	require.Len(t, notifier.events, 1)

	select {
	case got := <-stream:
		require.Equal(t, ev.ID, got.ID)
		require.Equal(t, events.TopicCartChanged, got.Topic)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEmitRejectsMissingSession(t *testing.T) {
	bus := events.Bus{}
	_, err := bus.Emit(context.Background(), events.TopicCartChanged, " ", nil)
	require.Error(t, err)
}

func TestRedisPubSubRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ps := events.RedisPubSub{Client: client, Prefix: "test"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, stop, err := ps.Subscribe(ctx, "s-2")
	require.NoError(t, err)
	defer stop()

	bus := events.Bus{Publisher: ps}
	_, err = bus.Emit(ctx, events.TopicQuotesUpdated, "s-2", json.RawMessage(`{"136":{"price":300}}`))
	require.NoError(t, err)

	select {
	case got := <-stream:
		require.Equal(t, events.TopicQuotesUpdated, got.Topic)
		require.JSONEq(t, `{"136":{"price":300}}`, string(got.Payload))
	case <-ctx.Done():
		t.Fatal("event not received from redis")
	}
}
