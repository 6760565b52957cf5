package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/lock"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestWithLockWaitsForRelease(t *testing.T) {
	locker := lock.Locker{R: newClient(t), Prefix: "checkout", RetryBackoff: 5 * time.Millisecond, Wait: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, "demo", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstDone
	secondDone := make(chan struct{})
	go func() {
		err := locker.WithLock(ctx, "demo", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		close(secondDone)
	}()

	time.Sleep(20 * time.Millisecond)
	close(releaseFirst)
	<-secondDone

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestWithLockFailsFastWithoutWait(t *testing.T) {
	locker := lock.Locker{R: newClient(t), Prefix: "checkout"}
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = locker.WithLock(ctx, "session-1", time.Second, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ran := false
	err := locker.WithLock(ctx, "session-1", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, lock.ErrHeld)
	require.False(t, ran)

	close(release)
	<-done
	require.NoError(t, locker.WithLock(ctx, "session-1", time.Second, func(context.Context) error { return nil }))
}
