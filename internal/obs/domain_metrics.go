package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartMutationsTotal counts cart mutations by operation and outcome.
	CartMutationsTotal *prometheus.CounterVec
	// SuggestionsTotal counts settled city suggestion lookups by outcome.
	SuggestionsTotal *prometheus.CounterVec
	// CityResolutionTotal counts carrier city-code lookups by outcome (resolved, failed, stale).
	CityResolutionTotal *prometheus.CounterVec
	// PointsFetched records how many pickup points a city listing produced.
	PointsFetched prometheus.Histogram
	// QuoteLookupsTotal counts tariff quote cache lookups (hit, miss, fallback).
	QuoteLookupsTotal *prometheus.CounterVec
	// CheckoutTotal counts checkout submissions by outcome.
	CheckoutTotal *prometheus.CounterVec
	// PaymentCreateTotal counts payment creation attempts.
	PaymentCreateTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal counts outbound checkout webhook deliveries.
	WebhookDeliveriesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Count of cart mutations by operation and result.",
		}, []string{"op", "result"})
		SuggestionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "city_suggestions_total",
			Help:      "Count of settled city suggestion lookups by result.",
		}, []string{"result"})
		CityResolutionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "city_resolution_total",
			Help:      "Count of carrier city code lookups by result.",
		}, []string{"result"})
		PointsFetched = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_points_fetched",
			Help:      "Number of pickup points returned for a city.",
			Buckets:   []float64{0, 10, 50, 100, 500, 1000, 5000},
		})
		QuoteLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tariff_quote_lookups_total",
			Help:      "Count of tariff quote cache lookups by result.",
		}, []string{"result"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout submissions by result.",
		}, []string{"result"})
		PaymentCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_create_total",
			Help:      "Count of payment creation attempts by result.",
		}, []string{"result"})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of checkout webhook deliveries by result.",
		}, []string{"result"})

		mustRegisterCollector(reg, CartMutationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartMutationsTotal = v
			}
		})
		mustRegisterCollector(reg, SuggestionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SuggestionsTotal = v
			}
		})
		mustRegisterCollector(reg, CityResolutionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CityResolutionTotal = v
			}
		})
		mustRegisterCollector(reg, PointsFetched, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				PointsFetched = v
			}
		})
		mustRegisterCollector(reg, QuoteLookupsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteLookupsTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentCreateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentCreateTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookDeliveriesTotal = v
			}
		})
	})
}

// Count increments vec for labels when the domain metrics are registered.
func Count(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
