// Package carrier adapts the shipping carrier API: city directory, pickup point
// listing, tariff calculator and order registration.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// ErrCityNotFound is returned when the directory has no match for a city name.
var ErrCityNotFound = errors.New("carrier: city not found")

// ErrQuoteRejected is returned when the calculator answers with an error payload.
var ErrQuoteRejected = errors.New("carrier: tariff quote rejected")

// tokenSkew renews the access token this long before it expires.
const tokenSkew = 30 * time.Second

// Client is the HTTP adapter. It is safe for concurrent use.
type Client struct {
	HTTP         resilience.HTTPClient
	BaseURL      string
	ClientID     string
	ClientSecret string
	Logger       *zerolog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns the cached bearer token, fetching a new one near expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	c.mu.Lock()
	if c.token != "" && now().Before(c.expiresAt) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v2/oauth/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTP.Fetch(ctx, req)
	if err != nil {
		return "", fmt.Errorf("carrier: token: %w", err)
	}
	var decoded tokenResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil || decoded.AccessToken == "" {
		return "", fmt.Errorf("carrier: token: malformed response")
	}
	ttl := time.Duration(decoded.ExpiresIn)*time.Second - tokenSkew
	if ttl < 0 {
		ttl = 0
	}
	c.mu.Lock()
	c.token = decoded.AccessToken
	c.expiresAt = now().Add(ttl)
	c.mu.Unlock()
	return decoded.AccessToken, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (resilience.Response, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return resilience.Response{}, err
	}
	target := c.endpoint(path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return resilience.Response{}, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return resilience.Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.HTTP.Fetch(ctx, req)
}

type cityEntry struct {
	Code int    `json:"code"`
	City string `json:"city"`
}

// ResolveCarrierCity maps a human city name to the carrier's numeric city code,
// taking the first directory match.
func (c *Client) ResolveCarrierCity(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrCityNotFound
	}
	query := url.Values{}
	query.Set("city", name)
	query.Set("size", "1")
	resp, err := c.do(ctx, http.MethodGet, "/v2/location/cities", query, nil)
	if err != nil {
		return "", fmt.Errorf("carrier: resolve city %q: %w", name, err)
	}
	var cities []cityEntry
	if err := json.Unmarshal(resp.Body, &cities); err != nil {
		return "", fmt.Errorf("carrier: resolve city %q: decode: %w", name, err)
	}
	if len(cities) == 0 || cities[0].Code == 0 {
		return "", fmt.Errorf("%w: %q", ErrCityNotFound, name)
	}
	return strconv.Itoa(cities[0].Code), nil
}

type pointEntry struct {
	Code     string `json:"code"`
	Type     string `json:"type"`
	WorkTime string `json:"work_time"`
	Location struct {
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		AddressFull string   `json:"address_full"`
		Address     string   `json:"address"`
	} `json:"location"`
	Images []struct {
		URL string `json:"url"`
	} `json:"office_image_list"`
}

// ListDeliveryPoints fetches one page of a city's pickup points. The page count comes
// from the X-Total-Pages header and defaults to 1. A malformed body yields the
// elements that could be decoded, or none.
func (c *Client) ListDeliveryPoints(ctx context.Context, cityCode string, page, pageSize int) (delivery.PointsPage, error) {
	query := url.Values{}
	query.Set("city_code", cityCode)
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(pageSize))
	resp, err := c.do(ctx, http.MethodGet, "/v2/deliverypoints", query, nil)
	if err != nil {
		return delivery.PointsPage{}, fmt.Errorf("carrier: list points: %w", err)
	}
	out := delivery.PointsPage{TotalPages: 1}
	if total, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("X-Total-Pages"))); err == nil && total > 0 {
		out.TotalPages = total
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		c.logger().Warn().Err(err).Str("city_code", cityCode).Int("page", page).Msg("malformed delivery points body")
		return out, nil
	}
	out.Items = make([]delivery.RawPoint, 0, len(raw))
	for _, item := range raw {
		var p pointEntry
		if err := json.Unmarshal(item, &p); err != nil {
			continue
		}
		rp := delivery.RawPoint{
			Code:      p.Code,
			Type:      p.Type,
			Lat:       p.Location.Latitude,
			Lon:       p.Location.Longitude,
			Address:   firstNonEmpty(p.Location.AddressFull, p.Location.Address),
			WorkHours: p.WorkTime,
		}
		for _, img := range p.Images {
			if img.URL != "" {
				rp.Images = append(rp.Images, img.URL)
			}
		}
		out.Items = append(out.Items, rp)
	}
	return out, nil
}

type tariffRequest struct {
	TariffCode   int           `json:"tariff_code"`
	FromLocation locationCode  `json:"from_location"`
	ToLocation   locationCode  `json:"to_location"`
	Packages     []packageSpec `json:"packages"`
}

type locationCode struct {
	Code int `json:"code"`
}

type packageSpec struct {
	Weight int `json:"weight"`
	Length int `json:"length"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tariffResponse struct {
	DeliverySum float64    `json:"delivery_sum"`
	TotalSum    float64    `json:"total_sum"`
	PeriodMin   int        `json:"period_min"`
	PeriodMax   int        `json:"period_max"`
	CalendarMin int        `json:"calendar_min"`
	CalendarMax int        `json:"calendar_max"`
	Errors      []apiError `json:"errors"`
}

// QuoteTariff prices one tariff. Fractional prices are rounded up to whole minor units.
func (c *Client) QuoteTariff(ctx context.Context, req delivery.QuoteRequest) (delivery.Quote, error) {
	from, err := strconv.Atoi(req.FromCityCode)
	if err != nil {
		return delivery.Quote{}, fmt.Errorf("carrier: origin city code %q: %w", req.FromCityCode, err)
	}
	to, err := strconv.Atoi(req.ToCityCode)
	if err != nil {
		return delivery.Quote{}, fmt.Errorf("carrier: destination city code %q: %w", req.ToCityCode, err)
	}
	body := tariffRequest{
		TariffCode:   req.TariffCode,
		FromLocation: locationCode{Code: from},
		ToLocation:   locationCode{Code: to},
		Packages: []packageSpec{{
			Weight: req.Package.WeightG,
			Length: req.Package.LengthCM,
			Width:  req.Package.WidthCM,
			Height: req.Package.HeightCM,
		}},
	}
	resp, err := c.do(ctx, http.MethodPost, "/v2/calculator/tariff", nil, body)
	if err != nil {
		return delivery.Quote{}, fmt.Errorf("carrier: quote tariff %d: %w", req.TariffCode, err)
	}
	var decoded tariffResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return delivery.Quote{}, fmt.Errorf("carrier: quote tariff %d: decode: %w", req.TariffCode, err)
	}
	if len(decoded.Errors) > 0 {
		return delivery.Quote{}, fmt.Errorf("%w: %d: %s", ErrQuoteRejected, req.TariffCode, decoded.Errors[0].Message)
	}
	price := decoded.TotalSum
	if price <= 0 {
		price = decoded.DeliverySum
	}
	minDays, maxDays := decoded.PeriodMin, decoded.PeriodMax
	if minDays == 0 && maxDays == 0 {
		minDays, maxDays = decoded.CalendarMin, decoded.CalendarMax
	}
	return delivery.Quote{
		TariffCode: req.TariffCode,
		Price:      pricing.Money(math.Ceil(price)),
		EtaDaysMin: minDays,
		EtaDaysMax: maxDays,
	}, nil
}

type orderResponse struct {
	Entity struct {
		UUID string `json:"uuid"`
	} `json:"entity"`
	Requests []struct {
		State  string     `json:"state"`
		Errors []apiError `json:"errors"`
	} `json:"requests"`
	Errors []apiError `json:"errors"`
}

// RegisterOrder submits the order. Carrier-side rejections come back as Result.Issues
// together with an error wrapping order.ErrRejected; transport failures are plain
// errors.
func (c *Client) RegisterOrder(ctx context.Context, req order.Request) (order.Result, error) {
	wire, err := toWireOrder(req)
	if err != nil {
		return order.Result{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/v2/orders", nil, wire)
	var statusErr *resilience.StatusError
	switch {
	case err == nil:
	case errors.As(err, &statusErr) && statusErr.Status < 500:
		resp.Body = statusErr.Body
	default:
		return order.Result{}, fmt.Errorf("carrier: register order: %w", err)
	}
	var decoded orderResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return order.Result{}, fmt.Errorf("carrier: register order: decode: %w", err)
	}
	var issues []order.Issue
	for _, e := range decoded.Errors {
		issues = append(issues, order.Issue{Code: e.Code, Message: e.Message})
	}
	for _, r := range decoded.Requests {
		for _, e := range r.Errors {
			issues = append(issues, order.Issue{Code: e.Code, Message: e.Message})
		}
	}
	if len(issues) > 0 || decoded.Entity.UUID == "" {
		if len(issues) == 0 {
			issues = []order.Issue{{Code: "unknown", Message: "carrier returned no order id"}}
		}
		return order.Result{Issues: issues}, order.ErrRejected
	}
	return order.Result{OrderID: decoded.Entity.UUID}, nil
}

type wireLocation struct {
	Code    int    `json:"code"`
	Address string `json:"address,omitempty"`
}

type wireOrder struct {
	order.Request
	FromLocation wireLocation  `json:"from_location"`
	ToLocation   *wireLocation `json:"to_location,omitempty"`
	Recipient    wireContact   `json:"recipient"`
	Sender       wireContact   `json:"sender"`
}

type wireContact struct {
	Name   string      `json:"name"`
	Email  string      `json:"email,omitempty"`
	Phones []wirePhone `json:"phones"`
}

type wirePhone struct {
	Number string `json:"number"`
}

func toWireOrder(req order.Request) (wireOrder, error) {
	from, err := strconv.Atoi(req.FromLocation.CityCode)
	if err != nil {
		return wireOrder{}, fmt.Errorf("carrier: origin city code %q: %w", req.FromLocation.CityCode, err)
	}
	out := wireOrder{
		Request:      req,
		FromLocation: wireLocation{Code: from},
		Recipient:    toWireContact(req.Recipient),
		Sender:       toWireContact(req.Sender),
	}
	if req.ToLocation != nil {
		to, err := strconv.Atoi(req.ToLocation.CityCode)
		if err != nil {
			return wireOrder{}, fmt.Errorf("carrier: destination city code %q: %w", req.ToLocation.CityCode, err)
		}
		out.ToLocation = &wireLocation{Code: to, Address: req.ToLocation.Address}
	}
	return out, nil
}

func toWireContact(c order.Contact) wireContact {
	return wireContact{Name: c.Name, Email: c.Email, Phones: []wirePhone{{Number: c.Phone}}}
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
