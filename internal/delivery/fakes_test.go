package delivery_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/noah-isme/toko-checkout/internal/delivery"
)

func ptr(v float64) *float64 { return &v }

type fakeLister struct {
	mu     sync.Mutex
	pages  map[int]delivery.PointsPage
	fail   map[int]bool
	calls  []int
	cities []string
}

func (f *fakeLister) ListDeliveryPoints(_ context.Context, cityCode string, page, _ int) (delivery.PointsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, page)
	f.cities = append(f.cities, cityCode)
	if f.fail[page] {
		return delivery.PointsPage{}, errors.New("boom")
	}
	return f.pages[page], nil
}

type fakeQuoter struct {
	calls   atomic.Int32
	release chan struct{}
	prices  map[int]delivery.Quote
	fail    map[int]bool
}

func (f *fakeQuoter) QuoteTariff(ctx context.Context, req delivery.QuoteRequest) (delivery.Quote, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.fail[req.TariffCode] {
		return delivery.Quote{}, errors.New("provider error payload")
	}
	q := f.prices[req.TariffCode]
	return q, nil
}
