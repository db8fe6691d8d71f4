package service

import (
	"github.com/richardliu001/rental-payout-service/internal/model"
	"github.com/shopspring/decimal"
)

// Line is one record's share of a location payout.
type Line struct {
	RentalID     string
	GrossAmount  decimal.Decimal
	SharePercent decimal.Decimal
	Amount       decimal.Decimal
}

// Calculation is the outcome of Calculate. Total is always the sum of the
// line amounts.
type Calculation struct {
	Total   decimal.Decimal
	Lines   []Line
	Skipped []model.UnpaidRevenueRecord
}

// LineAmount returns gross * share / 100 rounded to cents, halves away from zero.
func LineAmount(gross, sharePercent decimal.Decimal) decimal.Decimal {
	return gross.Mul(sharePercent).Shift(-2).Round(2)
}

// Calculate computes a location's payable amount. Records missing the gross
// amount or share are returned in Skipped and count for nothing.
func Calculate(records []model.UnpaidRevenueRecord) Calculation {
	c := Calculation{Total: decimal.Zero}
	for _, r := range records {
		if r.GrossAmount == nil || r.SharePercent == nil {
			c.Skipped = append(c.Skipped, r)
			continue
		}
		amt := LineAmount(*r.GrossAmount, *r.SharePercent)
		c.Lines = append(c.Lines, Line{
			RentalID:     r.RentalID,
			GrossAmount:  *r.GrossAmount,
			SharePercent: *r.SharePercent,
			Amount:       amt,
		})
		c.Total = c.Total.Add(amt)
	}
	return c
}

// RentalIDs lists the rentals that contributed a line.
func (c Calculation) RentalIDs() []string {
	ids := make([]string, 0, len(c.Lines))
	for _, l := range c.Lines {
		ids = append(ids, l.RentalID)
	}
	return ids
}
