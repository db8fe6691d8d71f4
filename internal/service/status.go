package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/richardliu001/rental-payout-service/internal/model"
)

var (
	gatewaySucceeded = map[string]bool{"completed": true, "paid": true, "success": true, "succeeded": true}
	gatewayFailed    = map[string]bool{"failed": true, "rejected": true, "declined": true, "cancelled": true, "canceled": true, "expired": true}
)

// SyncPayoutStatus polls the gateway for a PROCESSING payout and settles it
// when the gateway reports a final status. A PENDING payout that already
// carries a gateway id is moved to PROCESSING first.
func (s *PayoutService) SyncPayoutStatus(ctx context.Context, id string) (*model.Payout, error) {
	p, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.GatewayPayoutID == nil {
		return nil, fmt.Errorf("%w: %s payout has no gateway id", ErrInvalidTransition, p.Status)
	}
	switch p.Status {
	case model.PayoutStatusProcessing:
	case model.PayoutStatusPending:
		// accepted by the gateway but MarkProcessing never landed
		if p, err = s.ledger.MarkProcessing(ctx, id, *p.GatewayPayoutID, s.today()); err != nil {
			return nil, err
		}
		s.log.Infow("pending payout with gateway id moved to processing", "payout_id", id, "gateway_payout_id", *p.GatewayPayoutID)
	default:
		return nil, fmt.Errorf("%w: cannot sync %s payout", ErrInvalidTransition, p.Status)
	}

	status, err := s.gateway.QueryStatus(ctx, *p.GatewayPayoutID)
	if err != nil {
		return nil, err
	}
	status = strings.ToLower(status)
	switch {
	case gatewaySucceeded[status]:
		return s.ledger.MarkCompleted(ctx, id)
	case gatewayFailed[status]:
		failed, err := s.ledger.MarkFailed(ctx, id, "gateway reported status "+status)
		if err != nil {
			return nil, err
		}
		// the rentals were marked paid on submit and will not be fetched again
		s.log.Warnw("payout failed at gateway after rentals were marked paid, reconcile manually",
			"payout_id", id, "location_id", p.LocationID, "gateway_status", status, "rental_ids", rentalIDs(p))
		return failed, nil
	default:
		s.log.Debugw("payout still in flight", "payout_id", id, "gateway_status", status)
		return p, nil
	}
}

// SubmitPendingPayout submits a payout that was persisted but never reached
// the gateway. Any status other than PENDING is refused, since resubmitting
// a PROCESSING payout could move the money twice.
func (s *PayoutService) SubmitPendingPayout(ctx context.Context, id string) (*model.Payout, error) {
	if s.locker != nil {
		key, owner := "payout-submit:"+id, uuid.NewString()
		ok, err := s.locker.AcquireRunLock(ctx, key, owner, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire submit lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: payout %s is being submitted", ErrRunInProgress, id)
		}
		defer func() {
			if err := s.locker.ReleaseRunLock(context.WithoutCancel(ctx), key, owner); err != nil {
				s.log.Warnw("release submit lock", "payout_id", id, "error", err)
			}
		}()
	}

	p, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PayoutStatusPending {
		return nil, fmt.Errorf("%w: cannot submit %s payout", ErrInvalidTransition, p.Status)
	}
	if p.GatewayPayoutID != nil {
		return nil, fmt.Errorf("%w: payout already accepted by gateway as %s, sync it instead", ErrInvalidTransition, *p.GatewayPayoutID)
	}
	dest, err := s.resolver.Resolve(ctx, p.LocationID)
	if err != nil {
		return nil, err
	}
	if err := s.submit(ctx, p, dest.Destination, rentalIDs(p)); err != nil {
		return nil, err
	}
	return s.GetPayout(ctx, id)
}

func rentalIDs(p *model.Payout) []string {
	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.RentalID)
	}
	return ids
}
