package geocode_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/geocode"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func TestSuggestCities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/suggestions/api/4_1/rs/suggest/address", r.URL.Path)
		require.Equal(t, "Token secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Mosc", body["query"])
		_, _ = w.Write([]byte(`{"suggestions":[
			{"value":"г Москва","data":{"city":"Москва","region_with_type":"г Москва"}},
			{"value":"г Москва","data":{"city":"Москва","region_with_type":"г Москва"}},
			{"value":"пгт Московский","data":{"settlement":"Московский","region_with_type":"Московская обл"}}
		]}`))
	}))
	defer srv.Close()

	client := &geocode.Client{HTTP: resilience.HTTPClient{Client: srv.Client()}, BaseURL: srv.URL, Token: "secret"}
	got, err := client.SuggestCities(context.Background(), "Mosc")
	require.NoError(t, err)
	require.Equal(t, []geocode.Suggestion{
		{Label: "Москва", Subtitle: "г Москва"},
		{Label: "Московский", Subtitle: "Московская обл"},
	}, got)
}

func TestSuggestCitiesDegradesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := &geocode.Client{HTTP: resilience.HTTPClient{Client: srv.Client()}, BaseURL: srv.URL}
	got, err := client.SuggestCities(context.Background(), "Mos")
	require.Error(t, err)
	require.Empty(t, got)
	require.NotNil(t, got)
}

func TestMockMatchesPrefix(t *testing.T) {
	list, err := geocode.Mock{}.SuggestCities(context.Background(), "  каз")
	require.NoError(t, err)
	require.Equal(t, []geocode.Suggestion{{Label: "Казань"}}, list)

	list, err = geocode.Mock{}.SuggestCities(context.Background(), "zz")
	require.NoError(t, err)
	require.Empty(t, list)
}
