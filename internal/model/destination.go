package model

import "time"

// PayoutDestination is a location's bank account. Rows are owned by the bank
// account registry; this service only reads them.
type PayoutDestination struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	LocationID    string    `gorm:"size:64;not null;uniqueIndex" json:"location_id"`
	HolderName    string    `gorm:"size:255;not null" json:"holder_name"`
	AccountNumber string    `gorm:"size:34;not null" json:"account_number"`
	RoutingCode   string    `gorm:"size:11" json:"routing_code"`
	Currency      string    `gorm:"size:3;not null" json:"currency"`
	Active        bool      `gorm:"not null;default:true" json:"active"`
	Verified      bool      `gorm:"not null;default:false" json:"verified"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"-"`
}

func (PayoutDestination) TableName() string { return "payout_destination" }
