package city_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/city"
	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/geocode"
)

type fakeSuggester struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (f *fakeSuggester) SuggestCities(_ context.Context, text string) ([]geocode.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	if f.err != nil {
		return []geocode.Suggestion{}, f.err
	}
	return []geocode.Suggestion{{Label: "Москва", Subtitle: text}}, nil
}

func (f *fakeSuggester) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakeDirectory struct {
	gate  map[string]chan struct{}
	codes map[string]string
}

func (f *fakeDirectory) ResolveCarrierCity(_ context.Context, name string) (string, error) {
	if ch, ok := f.gate[name]; ok {
		<-ch
	}
	code, ok := f.codes[name]
	if !ok {
		return "", errors.New("not found")
	}
	return code, nil
}

type recorder struct {
	mu       sync.Mutex
	rendered []string
	selected []string
	resolved []delivery.City
	failed   []string
}

func (r *recorder) SuggestionsRendered(query string, _ []geocode.Suggestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = append(r.rendered, query)
}

func (r *recorder) CitySelected(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = append(r.selected, name)
}

func (r *recorder) CityResolved(c delivery.City) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, c)
}

func (r *recorder) CityResolutionFailed(name string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, name)
}

func (r *recorder) renders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rendered...)
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution did not finish")
	}
}

func TestKeystrokeBurstRendersOnlySettledQuery(t *testing.T) {
	suggester := &fakeSuggester{}
	rec := &recorder{}
	r := city.New(city.Config{Suggester: suggester, Directory: &fakeDirectory{}, Listener: rec, Debounce: 40 * time.Millisecond})
	t.Cleanup(r.Close)
	ctx := context.Background()

	require.Equal(t, city.StateSuggesting, r.Type(ctx, "Mos").State)
	time.Sleep(5 * time.Millisecond)
	r.Type(ctx, "Mosc")

	require.Eventually(t, func() bool { return len(rec.renders()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, []string{"Mosc"}, rec.renders())
	require.Equal(t, []string{"Mosc"}, suggester.calls())

	snap := r.Snapshot()
	require.Equal(t, city.StateSuggested, snap.State)
	require.Len(t, snap.Suggestions, 1)
}

func TestShortQueryReturnsToIdle(t *testing.T) {
	suggester := &fakeSuggester{}
	r := city.New(city.Config{Suggester: suggester, Directory: &fakeDirectory{}, Debounce: 20 * time.Millisecond})
	t.Cleanup(r.Close)
	ctx := context.Background()

	r.Type(ctx, "Mo")
	snap := r.Type(ctx, "М")
	require.Equal(t, city.StateIdle, snap.State)
	require.Empty(t, snap.Suggestions)

	time.Sleep(60 * time.Millisecond)
	require.Empty(t, suggester.calls(), "a pending lookup is dropped when the query gets too short")
}

func TestSuggestionFailureRendersEmptyList(t *testing.T) {
	rec := &recorder{}
	r := city.New(city.Config{Suggester: &fakeSuggester{err: errors.New("503")}, Directory: &fakeDirectory{}, Listener: rec, Debounce: 10 * time.Millisecond})
	t.Cleanup(r.Close)

	r.Type(context.Background(), "Kaz")
	require.Eventually(t, func() bool { return len(rec.renders()) == 1 }, time.Second, 5*time.Millisecond)
	snap := r.Snapshot()
	require.Equal(t, city.StateSuggested, snap.State)
	require.Empty(t, snap.Suggestions)
}

func TestSelectResolvesCarrierCode(t *testing.T) {
	rec := &recorder{}
	r := city.New(city.Config{
		Suggester: &fakeSuggester{},
		Directory: &fakeDirectory{codes: map[string]string{"Москва": "44"}},
		Listener:  rec,
	})
	t.Cleanup(r.Close)

	snap, done := r.Select(context.Background(), "Москва")
	require.Equal(t, city.StateResolving, snap.State)
	wait(t, done)

	snap = r.Snapshot()
	require.Equal(t, city.StateResolved, snap.State)
	require.Equal(t, &delivery.City{Name: "Москва", Code: "44"}, snap.City)
	require.Equal(t, []string{"Москва"}, rec.selected)
	require.Equal(t, []delivery.City{{Name: "Москва", Code: "44"}}, rec.resolved)
}

func TestResolutionFailureLeavesCodeEmpty(t *testing.T) {
	rec := &recorder{}
	r := city.New(city.Config{Suggester: &fakeSuggester{}, Directory: &fakeDirectory{}, Listener: rec})
	t.Cleanup(r.Close)

	_, done := r.Select(context.Background(), "Атлантида")
	wait(t, done)

	snap := r.Snapshot()
	require.Equal(t, city.StateResolutionFailed, snap.State)
	require.Nil(t, snap.City)
	require.Equal(t, []string{"Атлантида"}, rec.failed)
}

func TestTypingDuringResolvingDiscardsResolution(t *testing.T) {
	gate := make(chan struct{})
	rec := &recorder{}
	r := city.New(city.Config{
		Suggester: &fakeSuggester{},
		Directory: &fakeDirectory{gate: map[string]chan struct{}{"Москва": gate}, codes: map[string]string{"Москва": "44"}},
		Listener:  rec,
		Debounce:  time.Hour,
	})
	t.Cleanup(r.Close)
	ctx := context.Background()

	_, done := r.Select(ctx, "Москва")
	r.Type(ctx, "Каз")
	close(gate)
	wait(t, done)

	snap := r.Snapshot()
	require.Equal(t, city.StateSuggesting, snap.State)
	require.Nil(t, snap.City)
	require.Empty(t, rec.resolved, "a stale resolution must not be applied")
}

func TestNewSelectionSupersedesOlderResolution(t *testing.T) {
	gate := make(chan struct{})
	rec := &recorder{}
	r := city.New(city.Config{
		Suggester: &fakeSuggester{},
		Directory: &fakeDirectory{
			gate:  map[string]chan struct{}{"Москва": gate},
			codes: map[string]string{"Москва": "44", "Казань": "424"},
		},
		Listener: rec,
	})
	t.Cleanup(r.Close)
	ctx := context.Background()

	_, first := r.Select(ctx, "Москва")
	_, second := r.Select(ctx, "Казань")
	wait(t, second)
	close(gate)
	wait(t, first)

	require.Equal(t, "424", r.Snapshot().City.Code)
	require.Equal(t, []delivery.City{{Name: "Казань", Code: "424"}}, rec.resolved)
}

// workflowListener drives a delivery FSM the way a session does and can hold a
// delivered result before applying it.
type workflowListener struct {
	fsm     *delivery.FSM
	entered chan string
	release chan struct{}
}

func newWorkflowListener() *workflowListener {
	return &workflowListener{
		fsm:     delivery.NewFSM(delivery.FSMConfig{}),
		entered: make(chan string, 4),
		release: make(chan struct{}),
	}
}

func (l *workflowListener) SuggestionsRendered(query string, _ []geocode.Suggestion) {
	l.entered <- query
	<-l.release
}

func (l *workflowListener) CitySelected(string) { l.fsm.Reset() }

func (l *workflowListener) CityResolved(c delivery.City) {
	l.entered <- c.Name
	<-l.release
	_, _ = l.fsm.ChooseCity(c)
}

func (l *workflowListener) CityResolutionFailed(string, error) {}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not called")
		return ""
	}
}

func closed(ch <-chan struct{}) func() bool {
	return func() bool {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
}

func TestSelectWaitsForDeliveredResolution(t *testing.T) {
	kazan := make(chan struct{})
	l := newWorkflowListener()
	r := city.New(city.Config{
		Suggester: &fakeSuggester{},
		Directory: &fakeDirectory{
			gate:  map[string]chan struct{}{"Казань": kazan},
			codes: map[string]string{"Москва": "44", "Казань": "424"},
		},
		Listener: l,
	})
	t.Cleanup(r.Close)
	ctx := context.Background()

	_, first := r.Select(ctx, "Москва")
	require.Equal(t, "Москва", receive(t, l.entered))

	selected := make(chan struct{})
	var second <-chan struct{}
	go func() {
		_, second = r.Select(ctx, "Казань")
		close(selected)
	}()
	require.Never(t, closed(selected), 50*time.Millisecond, 5*time.Millisecond, "a new selection must wait for the delivered result")

	close(l.release)
	wait(t, first)
	wait(t, selected)

	snap := r.Snapshot()
	require.Equal(t, city.StateResolving, snap.State)
	require.Equal(t, "Казань", snap.Selected)
	fsm := l.fsm.Snapshot()
	require.Equal(t, delivery.StateNoCity, fsm.State, "the superseded city must not survive the new selection")
	require.Nil(t, fsm.City)

	close(kazan)
	require.Equal(t, "Казань", receive(t, l.entered))
	wait(t, second)
	require.Equal(t, &delivery.City{Name: "Казань", Code: "424"}, l.fsm.Snapshot().City)
}

func TestKeystrokeWaitsForRenderedSuggestions(t *testing.T) {
	l := newWorkflowListener()
	r := city.New(city.Config{Suggester: &fakeSuggester{}, Directory: &fakeDirectory{}, Listener: l, Debounce: 5 * time.Millisecond})
	t.Cleanup(r.Close)
	ctx := context.Background()

	r.Type(ctx, "Мос")
	require.Equal(t, "Мос", receive(t, l.entered))

	typed := make(chan struct{})
	go func() {
		r.Type(ctx, "Каз")
		close(typed)
	}()
	require.Never(t, closed(typed), 50*time.Millisecond, 5*time.Millisecond, "a keystroke must wait for the list being rendered")

	close(l.release)
	wait(t, typed)
	require.Equal(t, "Каз", receive(t, l.entered))
	require.Eventually(t, func() bool { return r.Snapshot().State == city.StateSuggested }, time.Second, 5*time.Millisecond)
	require.Equal(t, "Каз", r.Snapshot().Query)
}
