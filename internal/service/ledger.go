package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/rental-payout-service/internal/model"
	"github.com/richardliu001/rental-payout-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewPayout is everything Ledger.Create needs.
type NewPayout struct {
	LocationID  string
	Destination model.PayoutDestination
	Calculation Calculation
	PeriodStart time.Time
	PeriodEnd   time.Time
	DueDate     time.Time
}

// Ledger persists payouts and their status changes. Each call is one
// database transaction that also writes the matching outbox event.
type Ledger struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewLedger returns Ledger.
func NewLedger(r repo.RepositoryInterface, logger *zap.SugaredLogger) *Ledger {
	return &Ledger{repo: r, log: logger}
}

// Create stores a PENDING payout with its items.
func (l *Ledger) Create(ctx context.Context, in NewPayout) (*model.Payout, error) {
	calc := in.Calculation
	if !calc.Total.IsPositive() {
		return nil, ErrZeroOrNegativeAmount
	}
	sum := decimal.Zero
	for _, line := range calc.Lines {
		sum = sum.Add(line.Amount)
	}
	if !sum.Equal(calc.Total) {
		return nil, fmt.Errorf("%w: items %s, total %s", ErrUnbalancedPayout, sum, calc.Total)
	}

	p := &model.Payout{
		ID:              uuid.NewString(),
		LocationID:      in.LocationID,
		DestinationID:   in.Destination.ID,
		Currency:        in.Destination.Currency,
		TotalAmount:     calc.Total,
		PaidAmount:      decimal.Zero,
		RemainingAmount: calc.Total,
		Status:          model.PayoutStatusPending,
		PeriodStart:     in.PeriodStart,
		PeriodEnd:       in.PeriodEnd,
		DueDate:         in.DueDate,
	}
	for _, line := range calc.Lines {
		p.Items = append(p.Items, model.PayoutItem{
			ID:           uuid.NewString(),
			PayoutID:     p.ID,
			RentalID:     line.RentalID,
			GrossAmount:  line.GrossAmount,
			SharePercent: line.SharePercent,
			Amount:       line.Amount,
		})
	}

	err := l.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.repo.CreatePayout(ctx, tx, p); err != nil {
			return err
		}
		return l.repo.CreateOutboxEvent(ctx, tx, payoutEvent(p, model.EventPayoutCreated))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// MarkProcessing records the gateway id. Repeating it with the same id is a no-op.
func (l *Ledger) MarkProcessing(ctx context.Context, id, gatewayID string, payoutDate time.Time) (*model.Payout, error) {
	return l.transition(ctx, id, func(p *model.Payout) (map[string]interface{}, string, error) {
		switch {
		case p.Status == model.PayoutStatusPending:
			return map[string]interface{}{
				"status":            model.PayoutStatusProcessing,
				"gateway_payout_id": gatewayID,
				"payout_date":       payoutDate,
			}, model.EventPayoutProcessing, nil
		case p.Status == model.PayoutStatusProcessing && p.GatewayPayoutID != nil && *p.GatewayPayoutID == gatewayID:
			return nil, "", nil
		default:
			return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, model.PayoutStatusProcessing)
		}
	})
}

// MarkFailed records a failure. Repeating it with the same reason is a no-op;
// a new reason on an already failed payout only replaces the reason.
func (l *Ledger) MarkFailed(ctx context.Context, id, reason string) (*model.Payout, error) {
	return l.transition(ctx, id, func(p *model.Payout) (map[string]interface{}, string, error) {
		switch p.Status {
		case model.PayoutStatusPending, model.PayoutStatusProcessing:
			return map[string]interface{}{
				"status":         model.PayoutStatusFailed,
				"failure_reason": reason,
			}, model.EventPayoutFailed, nil
		case model.PayoutStatusFailed:
			if p.FailureReason == reason {
				return nil, "", nil
			}
			return map[string]interface{}{"failure_reason": reason}, "", nil
		default:
			return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, model.PayoutStatusFailed)
		}
	})
}

// MarkCompleted settles a PROCESSING payout in full.
func (l *Ledger) MarkCompleted(ctx context.Context, id string) (*model.Payout, error) {
	return l.transition(ctx, id, func(p *model.Payout) (map[string]interface{}, string, error) {
		switch p.Status {
		case model.PayoutStatusProcessing:
			return map[string]interface{}{
				"status":           model.PayoutStatusCompleted,
				"paid_amount":      p.TotalAmount,
				"remaining_amount": decimal.Zero,
			}, model.EventPayoutCompleted, nil
		case model.PayoutStatusCompleted:
			return nil, "", nil
		default:
			return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, model.PayoutStatusCompleted)
		}
	})
}

// RecordGatewayID stores the gateway id on a PENDING payout without moving
// its status. It is the fallback when MarkProcessing could not be written.
func (l *Ledger) RecordGatewayID(ctx context.Context, id, gatewayID string) error {
	_, err := l.transition(ctx, id, func(p *model.Payout) (map[string]interface{}, string, error) {
		switch {
		case p.Status != model.PayoutStatusPending:
			return nil, "", fmt.Errorf("%w: record gateway id on %s payout", ErrInvalidTransition, p.Status)
		case p.GatewayPayoutID != nil && *p.GatewayPayoutID == gatewayID:
			return nil, "", nil
		case p.GatewayPayoutID != nil:
			return nil, "", fmt.Errorf("%w: payout already has gateway id %s", ErrInvalidTransition, *p.GatewayPayoutID)
		default:
			return map[string]interface{}{"gateway_payout_id": gatewayID}, "", nil
		}
	})
	return err
}

type transitionFunc func(p *model.Payout) (fields map[string]interface{}, event string, err error)

func (l *Ledger) transition(ctx context.Context, id string, fn transitionFunc) (*model.Payout, error) {
	var out *model.Payout
	err := l.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := l.repo.GetPayoutForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrPayoutNotFound, id)
			}
			return err
		}
		fields, event, err := fn(p)
		if err != nil {
			return err
		}
		if fields == nil {
			out = p
			return nil
		}
		if err := l.repo.UpdatePayout(ctx, tx, id, fields); err != nil {
			return err
		}
		if out, err = l.repo.GetPayout(ctx, tx, id); err != nil {
			return err
		}
		if !out.Balanced() {
			return fmt.Errorf("%w: paid %s + remaining %s != total %s",
				ErrUnbalancedPayout, out.PaidAmount, out.RemainingAmount, out.TotalAmount)
		}
		if event == "" {
			return nil
		}
		return l.repo.CreateOutboxEvent(ctx, tx, payoutEvent(out, event))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func payoutEvent(p *model.Payout, eventType string) *model.OutboxEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"payout_id":         p.ID,
		"location_id":       p.LocationID,
		"status":            p.Status,
		"currency":          p.Currency,
		"total_amount":      p.TotalAmount,
		"paid_amount":       p.PaidAmount,
		"remaining_amount":  p.RemainingAmount,
		"gateway_payout_id": p.GatewayPayoutID,
		"failure_reason":    p.FailureReason,
		"period_start":      p.PeriodStart.Format("2006-01-02"),
		"period_end":        p.PeriodEnd.Format("2006-01-02"),
	})
	return &model.OutboxEvent{
		Aggregate: "Payout", AggregateID: p.ID, EventType: eventType, Payload: string(payload),
	}
}
