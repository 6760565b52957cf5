package geocode

import (
	"context"
	"strings"
)

// Mock suggests from a fixed city list by case-insensitive prefix. It backs local
// runs without a geocoder token.
type Mock struct {
	Cities []string
	Count  int
}

var defaultMockCities = []string{"Москва", "Санкт-Петербург", "Казань", "Новосибирск", "Екатеринбург"}

// SuggestCities implements Suggester.
func (m Mock) SuggestCities(_ context.Context, text string) ([]Suggestion, error) {
	cities := m.Cities
	if len(cities) == 0 {
		cities = defaultMockCities
	}
	limit := m.Count
	if limit <= 0 {
		limit = 7
	}
	query := strings.ToLower(strings.TrimSpace(text))
	out := []Suggestion{}
	for _, c := range cities {
		if len(out) == limit {
			break
		}
		if strings.HasPrefix(strings.ToLower(c), query) {
			out = append(out, Suggestion{Label: c})
		}
	}
	return out, nil
}
