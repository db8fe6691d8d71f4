package model

import "github.com/shopspring/decimal"

// UnpaidRevenueRecord is one rental's unpaid revenue as reported by the
// rental service. Nil amounts mean the upstream record is incomplete.
type UnpaidRevenueRecord struct {
	RentalID     string           `json:"rental_id"`
	LocationID   string           `json:"location_id"`
	GrossAmount  *decimal.Decimal `json:"gross_amount"`
	SharePercent *decimal.Decimal `json:"share_percent"`
}
