package events

// Topic constants for render signals and domain events emitted by a checkout session.
const (
	TopicCartChanged            = "cart.changed"
	TopicCitySuggested          = "city.suggested"
	TopicCityResolved           = "city.resolved"
	TopicCityFailed             = "city.resolution_failed"
	TopicDeliveryReset          = "delivery.reset"
	TopicPointsLoaded           = "delivery.points_loaded"
	TopicQuotesUpdated          = "delivery.quotes_updated"
	TopicTariffSelected         = "delivery.tariff_selected"
	TopicCheckoutCompleted      = "checkout.completed"
	TopicCheckoutPartialFailure = "checkout.partial_failure"
)

// DefaultTopics returns every topic forwarded to session streams.
func DefaultTopics() []string {
	return []string{
		TopicCartChanged,
		TopicCitySuggested,
		TopicCityResolved,
		TopicCityFailed,
		TopicDeliveryReset,
		TopicPointsLoaded,
		TopicQuotesUpdated,
		TopicTariffSelected,
		TopicCheckoutCompleted,
		TopicCheckoutPartialFailure,
	}
}
