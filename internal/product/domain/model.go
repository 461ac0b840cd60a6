package domain

import "time"

// Product is a purchasable generation package.
type Product struct {
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	PriceCents      int64  `json:"price_cents"`
	Currency        string `json:"currency"`
	Generations     int    `json:"generations"`
	DiscountPercent int    `json:"discount_percent,omitempty"`
	ValidityDays    int    `json:"validity_days"`
}

// Validity is how long a token minted for this product stays usable.
func (p Product) Validity() time.Duration {
	return time.Duration(p.ValidityDays) * 24 * time.Hour
}
