package model

import "time"

// Payout lifecycle event types written to the outbox.
const (
	EventPayoutCreated    = "payout.created"
	EventPayoutProcessing = "payout.processing"
	EventPayoutFailed     = "payout.failed"
	EventPayoutCompleted  = "payout.completed"
)

type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID string    `gorm:"size:64;not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
