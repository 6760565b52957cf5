package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTriggerCoalescesBurst(t *testing.T) {
	d := New(30 * time.Millisecond)
	var mu sync.Mutex
	var fired []string

	for _, q := range []string{"M", "Mo", "Mos", "Mosc"} {
		q := q
		d.Trigger(func() {
			mu.Lock()
			fired = append(fired, q)
			mu.Unlock()
		})
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"Mosc"}, fired)
}

func TestStopDropsPending(t *testing.T) {
	d := New(20 * time.Millisecond)
	fired := make(chan struct{}, 1)
	d.Trigger(func() { fired <- struct{}{} })
	d.Stop()

	select {
	case <-fired:
		t.Fatal("stopped task must not run")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSequenceLastCallWins(t *testing.T) {
	var seq Sequence
	first := seq.Next()
	second := seq.Next()
	require.False(t, seq.Current(first))
	require.True(t, seq.Current(second))

	seq.Invalidate()
	require.False(t, seq.Current(second))
}
