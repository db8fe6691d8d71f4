package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the lifecycle state of a Payout.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusFailed     PayoutStatus = "FAILED"
)

// Payout is one transfer obligation to one location for one processing run.
// PaidAmount + RemainingAmount always equals TotalAmount.
type Payout struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	LocationID      string          `gorm:"size:64;not null;index" json:"location_id"`
	DestinationID   string          `gorm:"size:64;not null" json:"destination_id"`
	Currency        string          `gorm:"size:3;not null" json:"currency"`
	TotalAmount     decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"total_amount"`
	PaidAmount      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"paid_amount"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"remaining_amount"`
	Status          PayoutStatus    `gorm:"size:16;not null;index" json:"status"`
	PeriodStart     time.Time       `gorm:"not null" json:"period_start"`
	PeriodEnd       time.Time       `gorm:"not null" json:"period_end"`
	DueDate         time.Time       `gorm:"not null" json:"due_date"`
	PayoutDate      *time.Time      `json:"payout_date,omitempty"`
	GatewayPayoutID *string         `gorm:"size:128" json:"gateway_payout_id,omitempty"`
	FailureReason   string          `gorm:"size:1024" json:"failure_reason,omitempty"`
	Items           []PayoutItem    `gorm:"foreignKey:PayoutID" json:"items,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payout) TableName() string { return "payout" }

// Balanced reports whether paid and remaining add up to the total.
func (p *Payout) Balanced() bool {
	return p.PaidAmount.Add(p.RemainingAmount).Equal(p.TotalAmount)
}

// PayoutItem is one rental's contribution to a Payout. Immutable once created.
type PayoutItem struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	PayoutID     string          `gorm:"size:36;not null;index" json:"payout_id"`
	RentalID     string          `gorm:"size:64;not null;index" json:"rental_id"`
	GrossAmount  decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"gross_amount"`
	SharePercent decimal.Decimal `gorm:"type:numeric(12,8);not null" json:"share_percent"`
	Amount       decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (PayoutItem) TableName() string { return "payout_item" }
