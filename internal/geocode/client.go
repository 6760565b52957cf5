// Package geocode adapts the address suggestion provider used to turn free text into
// human readable city candidates.
package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// Suggestion is one city candidate shown to the user.
type Suggestion struct {
	Label    string `json:"label"`
	Subtitle string `json:"subtitle,omitempty"`
}

// Suggester returns ranked city suggestions for a free-text query.
type Suggester interface {
	SuggestCities(ctx context.Context, text string) ([]Suggestion, error)
}

// Client talks to a DaData-compatible suggest endpoint bounded to city level.
type Client struct {
	HTTP    resilience.HTTPClient
	BaseURL string
	Token   string
	Count   int
	Logger  *zerolog.Logger
}

type suggestRequest struct {
	Query     string `json:"query"`
	Count     int    `json:"count"`
	FromBound bound  `json:"from_bound"`
	ToBound   bound  `json:"to_bound"`
}

type bound struct {
	Value string `json:"value"`
}

type suggestResponse struct {
	Suggestions []struct {
		Value string `json:"value"`
		Data  struct {
			City           string `json:"city"`
			Settlement     string `json:"settlement"`
			RegionWithType string `json:"region_with_type"`
		} `json:"data"`
	} `json:"suggestions"`
}

// SuggestCities queries the provider. Transport failures, non-2xx answers and
// malformed bodies all degrade to an empty list; the error is returned for logging
// only and callers treat it as "no results".
func (c *Client) SuggestCities(ctx context.Context, text string) ([]Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	count := c.Count
	if count <= 0 {
		count = 10
	}
	payload, err := json.Marshal(suggestRequest{
		Query:     text,
		Count:     count,
		FromBound: bound{Value: "city"},
		ToBound:   bound{Value: "settlement"},
	})
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/suggestions/api/4_1/rs/suggest/address"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Token "+c.Token)
	}
	resp, err := c.HTTP.Fetch(ctx, req)
	if err != nil {
		c.logger().Warn().Err(err).Str("query", text).Msg("suggest cities")
		return []Suggestion{}, fmt.Errorf("geocode: suggest: %w", err)
	}
	var decoded suggestResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		c.logger().Warn().Err(err).Str("query", text).Msg("decode city suggestions")
		return []Suggestion{}, fmt.Errorf("geocode: decode: %w", err)
	}
	out := make([]Suggestion, 0, len(decoded.Suggestions))
	seen := make(map[string]struct{}, len(decoded.Suggestions))
	for _, s := range decoded.Suggestions {
		label := firstNonEmpty(s.Data.City, s.Data.Settlement, s.Value)
		if label == "" {
			continue
		}
		key := label + "|" + s.Data.RegionWithType
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Suggestion{Label: label, Subtitle: s.Data.RegionWithType})
	}
	return out, nil
}

func (c *Client) logger() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
