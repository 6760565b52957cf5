package carrier

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Mock serves canned carrier answers and is useful for local development when no
// carrier credentials are configured.
type Mock struct {
	seq atomic.Int64
}

var mockCities = map[string]string{
	"москва":          "44",
	"санкт-петербург": "137",
	"казань":          "424",
}

// ResolveCarrierCity knows a handful of cities.
func (*Mock) ResolveCarrierCity(_ context.Context, name string) (string, error) {
	if code, ok := mockCities[strings.ToLower(strings.TrimSpace(name))]; ok {
		return code, nil
	}
	return "", ErrCityNotFound
}

// ListDeliveryPoints returns one pickup point and one locker per city.
func (*Mock) ListDeliveryPoints(_ context.Context, cityCode string, _, _ int) (delivery.PointsPage, error) {
	lat, lon := 55.75, 37.61
	return delivery.PointsPage{TotalPages: 1, Items: []delivery.RawPoint{
		{Code: cityCode + "-PVZ", Type: "PVZ", Lat: &lat, Lon: &lon, Address: "ул. Пример, 1", WorkHours: "Пн-Вс 10:00-21:00"},
		{Code: cityCode + "-LOCK", Type: "POSTAMAT", Lat: &lat, Lon: &lon, Address: "ул. Пример, 2", WorkHours: "24/7"},
	}}, nil
}

// QuoteTariff prices by weight, express tariffs costing double.
func (*Mock) QuoteTariff(_ context.Context, req delivery.QuoteRequest) (delivery.Quote, error) {
	price := pricing.Money(250 + req.Package.WeightG/10)
	quote := delivery.Quote{TariffCode: req.TariffCode, Price: price, EtaDaysMin: 3, EtaDaysMax: 5}
	if req.TariffCode == 483 || req.TariffCode == 485 {
		quote.Price = price * 2
		quote.EtaDaysMin, quote.EtaDaysMax = 1, 2
	}
	return quote, nil
}

// RegisterOrder always accepts.
func (m *Mock) RegisterOrder(_ context.Context, _ order.Request) (order.Result, error) {
	return order.Result{OrderID: "mock-" + strconv.FormatInt(m.seq.Add(1), 10)}, nil
}
