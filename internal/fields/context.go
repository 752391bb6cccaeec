package fields

import "time"

// ShopContext carries the shop-level data consulted by field derivations. It
// is threaded explicitly into renderers; there is no process-global session.
type ShopContext struct {
	Domain       string
	CountryCode  string
	CreatedAt    time.Time
	TaxRatesJSON string

	ComparePriceOverride     bool
	UseGMCTransitionID       bool
	LegacyFulfillmentService bool
}
