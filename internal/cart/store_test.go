package cart_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

type failingStorage struct{}

func (failingStorage) Load(context.Context, string) (cart.Counts, bool, error) {
	return cart.Counts{}, false, errors.New("down")
}

func (failingStorage) Save(context.Context, string, cart.Counts) error {
	return errors.New("down")
}

type recordingNotifier struct {
	topics []string
}

func (r *recordingNotifier) Notify(_ context.Context, ev events.Event) error {
	r.topics = append(r.topics, ev.Topic)
	return nil
}

func TestDecrementFloorsAtZero(t *testing.T) {
	store := cart.NewStore(cart.Options{SessionID: "s"})
	view, err := store.Decrement(context.Background(), pricing.Memory)
	require.NoError(t, err)
	require.Equal(t, 0, view.Counts.MemoryCount)
}

func TestMutationsPersistSignalAndBroadcast(t *testing.T) {
	ctx := context.Background()
	storage := cart.NewMemoryStorage()
	notifier := &recordingNotifier{}
	var refreshed []cart.View
	store := cart.NewStore(cart.Options{
		SessionID: "s",
		Storage:   storage,
		Events:    &events.Bus{Notifiers: []events.Notifier{notifier}},
		Shipping:  func() pricing.Money { return 300 },
		OnRefresh: func(v cart.View) { refreshed = append(refreshed, v) },
	})

	_, err := store.Increment(ctx, pricing.Camera)
	require.NoError(t, err)
	_, err = store.Set(ctx, pricing.Memory, 2)
	require.NoError(t, err)
	view, err := store.ApplyPromo(ctx, " promo7 ")
	require.NoError(t, err)

	require.Equal(t, 3, view.Badge)
	require.Equal(t, pricing.Money(9507), view.Summary.Total)
	require.Len(t, refreshed, 3)
	require.Equal(t, []string{events.TopicCartChanged, events.TopicCartChanged, events.TopicCartChanged}, notifier.topics)

	saved, ok, err := storage.Load(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cart.Counts{CameraCount: 1, MemoryCount: 2}, saved)

	view, err = store.Remove(ctx, pricing.Camera)
	require.NoError(t, err)
	require.Equal(t, 0, view.Counts.CameraCount)
}

func TestApplyPromo(t *testing.T) {
	ctx := context.Background()
	store := cart.NewStore(cart.Options{SessionID: "s"})

	_, err := store.ApplyPromo(ctx, "PROMO20")
	require.NoError(t, err)
	require.Equal(t, 20, store.DiscountPercent())

	_, err = store.ApplyPromo(ctx, "BOGUS")
	require.Error(t, err)
	require.ErrorIs(t, err, cart.ErrInvalidCode)
	require.True(t, common.IsValidation(err))
	require.Equal(t, 20, store.DiscountPercent(), "invalid code must not touch the discount")

	_, err = store.ApplyPromo(ctx, "PROMO7")
	require.NoError(t, err)
	require.Equal(t, 7, store.DiscountPercent(), "a second valid code overwrites")

	_, err = store.ClearPromo(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, store.DiscountPercent())
}

func TestSetRejectsNegative(t *testing.T) {
	store := cart.NewStore(cart.Options{SessionID: "s"})
	_, err := store.Set(context.Background(), pricing.Camera, -1)
	require.ErrorIs(t, err, cart.ErrInvalidQuantity)
}

func TestUnknownKindRejected(t *testing.T) {
	store := cart.NewStore(cart.Options{SessionID: "s"})
	_, err := store.Increment(context.Background(), pricing.ItemKind("tripod"))
	require.ErrorIs(t, err, pricing.ErrUnknownKind)
	require.Equal(t, 0, store.Counts().Items())
}

func TestSaveFailureKeepsState(t *testing.T) {
	store := cart.NewStore(cart.Options{SessionID: "s", Storage: failingStorage{}})
	view, err := store.Increment(context.Background(), pricing.Camera)
	require.Error(t, err)
	require.Equal(t, 1, view.Counts.CameraCount)
	require.Equal(t, 1, store.Counts().CameraCount)
}

func TestRedisStorageRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	storage := cart.NewRedisStorage(client, "cart", time.Hour)

	_, ok, err := storage.Load(ctx, "abc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, storage.Save(ctx, "abc", cart.Counts{CameraCount: 2, MemoryCount: 5}))
	raw, err := mr.Get("cart:abc")
	require.NoError(t, err)
	require.JSONEq(t, `{"cameraCount":2,"memoryCount":5}`, raw)

	store := cart.NewStore(cart.Options{SessionID: "abc", Storage: storage})
	require.NoError(t, store.Restore(ctx))
	require.Equal(t, cart.Counts{CameraCount: 2, MemoryCount: 5}, store.Counts())
}

func TestCountsJSONShape(t *testing.T) {
	raw, err := json.Marshal(cart.Counts{CameraCount: 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"cameraCount":1,"memoryCount":0}`, string(raw))
}
