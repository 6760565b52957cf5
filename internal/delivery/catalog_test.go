package delivery_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/delivery"
)

func TestFetchAllPagesUntilTotalPages(t *testing.T) {
	lister := &fakeLister{pages: map[int]delivery.PointsPage{
		0: {TotalPages: 3, Items: []delivery.RawPoint{{Code: "A", Type: "pvz", Lat: ptr(55.7), Lon: ptr(37.6)}}},
		1: {TotalPages: 3, Items: []delivery.RawPoint{{Code: "B", Type: "POSTAMAT", Lat: ptr(55.8), Lon: ptr(37.5)}}},
		2: {TotalPages: 3, Items: []delivery.RawPoint{{Code: "C", Type: "PVZ"}}},
	}}
	catalog := delivery.Catalog{Lister: lister}

	points, err := catalog.FetchAll(context.Background(), "44")
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, lister.calls)
	require.Len(t, points.All, 2, "points without coordinates are dropped")

	a, ok := points.Lookup("A")
	require.True(t, ok)
	require.Equal(t, delivery.KindPVZ, a.Kind)
	require.Len(t, points.OfKind(delivery.KindPostamat), 1)
	_, ok = points.Lookup("C")
	require.False(t, ok)
}

func TestFetchAllMissingTotalPagesMeansSinglePage(t *testing.T) {
	lister := &fakeLister{pages: map[int]delivery.PointsPage{
		0: {Items: []delivery.RawPoint{{Code: "A", Type: "PVZ", Lat: ptr(1), Lon: ptr(2)}}},
		1: {Items: []delivery.RawPoint{{Code: "B", Type: "PVZ", Lat: ptr(1), Lon: ptr(2)}}},
	}}
	points, err := (&delivery.Catalog{Lister: lister}).FetchAll(context.Background(), "44")
	require.NoError(t, err)
	require.Equal(t, []int{0}, lister.calls)
	require.Len(t, points.All, 1)
}

func TestFetchAllProviderFailureDegradesToPartialList(t *testing.T) {
	lister := &fakeLister{
		pages: map[int]delivery.PointsPage{
			0: {TotalPages: 2, Items: []delivery.RawPoint{{Code: "A", Type: "PVZ", Lat: ptr(1), Lon: ptr(2)}}},
		},
		fail: map[int]bool{1: true},
	}
	points, err := (&delivery.Catalog{Lister: lister}).FetchAll(context.Background(), "44")
	require.NoError(t, err)
	require.Len(t, points.All, 1)

	empty, err := (&delivery.Catalog{Lister: &fakeLister{fail: map[int]bool{0: true}}}).FetchAll(context.Background(), "44")
	require.NoError(t, err)
	require.Empty(t, empty.All)
}

func TestClassifyKind(t *testing.T) {
	require.Equal(t, delivery.KindPVZ, delivery.ClassifyKind(" pvz "))
	require.Equal(t, delivery.KindPostamat, delivery.ClassifyKind("POSTAMAT"))
	require.Equal(t, delivery.KindPostamat, delivery.ClassifyKind("ALL"))
}

func TestSnapshotCacheServesSecondFetch(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lister := &fakeLister{pages: map[int]delivery.PointsPage{
		0: {TotalPages: 1, Items: []delivery.RawPoint{{Code: "A", Type: "PVZ", Lat: ptr(1), Lon: ptr(2), Address: "Lenina 1"}}},
	}}
	catalog := delivery.Catalog{Lister: lister, Cache: delivery.NewSnapshotCache(client, "points", time.Hour)}
	ctx := context.Background()

	_, err = catalog.FetchAll(ctx, "44")
	require.NoError(t, err)
	require.True(t, mr.Exists("points:44"))

	points, err := catalog.FetchAll(ctx, "44")
	require.NoError(t, err)
	require.Len(t, lister.calls, 1, "second fetch is served from the snapshot")
	a, ok := points.Lookup("A")
	require.True(t, ok)
	require.Equal(t, "Lenina 1", a.Address)
}
