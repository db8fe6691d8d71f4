package service

import (
	"context"
	"fmt"

	"github.com/richardliu001/rental-payout-service/internal/model"
	"go.uber.org/zap"
)

// DestinationRegistry looks up verified bank destinations.
type DestinationRegistry interface {
	FindDestinationByLocation(ctx context.Context, locationID string) (*model.PayoutDestination, error)
}

// Resolution carries the destination and the advisory verification warning.
type Resolution struct {
	Destination model.PayoutDestination
	Unverified  bool
}

// DestinationResolver validates a location's payout destination.
type DestinationResolver struct {
	registry DestinationRegistry
	log      *zap.SugaredLogger
}

func NewDestinationResolver(reg DestinationRegistry, log *zap.SugaredLogger) *DestinationResolver {
	return &DestinationResolver{registry: reg, log: log}
}

// Resolve returns the location's destination. Unverified destinations are
// returned with a warning; payout policy for them is still open.
func (r *DestinationResolver) Resolve(ctx context.Context, locationID string) (Resolution, error) {
	d, err := r.registry.FindDestinationByLocation(ctx, locationID)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup destination for %s: %w", locationID, err)
	}
	if d == nil {
		return Resolution{}, fmt.Errorf("%w: location %s", ErrDestinationNotConfigured, locationID)
	}
	if d.Currency == "" || d.AccountNumber == "" {
		return Resolution{}, fmt.Errorf("%w: location %s destination %s is incomplete", ErrDestinationNotConfigured, locationID, d.ID)
	}
	if !d.Active {
		return Resolution{}, fmt.Errorf("%w: location %s destination %s", ErrDestinationInactive, locationID, d.ID)
	}
	res := Resolution{Destination: *d, Unverified: !d.Verified}
	if res.Unverified {
		r.log.Warnw("payout destination not verified", "location_id", locationID, "destination_id", d.ID)
	}
	return res, nil
}
