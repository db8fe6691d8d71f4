package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/richardliu001/rental-payout-service/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrPayoutsDisabled means the payout feature flag is off.
	ErrPayoutsDisabled = errors.New("payouts are disabled")
	// ErrBelowMinimum means the amount is under the configured minimum.
	ErrBelowMinimum = errors.New("payout amount below minimum")
	// ErrDestinationInactive means the bank destination is switched off.
	ErrDestinationInactive = errors.New("payout destination inactive")
	// ErrInvalidAmount means the amount cannot be expressed in minor units.
	ErrInvalidAmount = errors.New("payout amount has more than 2 decimals")
)

// IntegrationError wraps every failure reported by, or on the way to, a live provider.
type IntegrationError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *IntegrationError) Error() string {
	msg := fmt.Sprintf("%s payout gateway", e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" code %s", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// Handle identifies a payout at the provider.
type Handle struct {
	ID     string
	Status string
}

// SubmitRequest is what a Provider needs to move money.
type SubmitRequest struct {
	Destination model.PayoutDestination
	AmountMinor int64
	Currency    string
	Description string
	Reference   string
}

// Provider is one payout backend. Implementations never retry.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (Handle, error)
	QueryStatus(ctx context.Context, id string) (string, error)
}

// Options configures the Adapter preconditions and throttle.
type Options struct {
	Enabled       bool
	MinimumAmount decimal.Decimal
	RPS           float64
}

// Adapter enforces payout preconditions before handing the request to the provider.
type Adapter struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter
	log      *zap.SugaredLogger
}

// NewAdapter returns Adapter.
func NewAdapter(p Provider, opts Options, log *zap.SugaredLogger) *Adapter {
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return &Adapter{provider: p, opts: opts, limiter: lim, log: log}
}

// Provider returns the backend in use.
func (a *Adapter) Provider() string { return a.provider.Name() }

// SubmitPayout checks preconditions, then submits amount (major units) to dest.
func (a *Adapter) SubmitPayout(ctx context.Context, dest model.PayoutDestination, amount decimal.Decimal, currency, description, reference string) (Handle, error) {
	if !a.opts.Enabled {
		return Handle{}, ErrPayoutsDisabled
	}
	if amount.LessThan(a.opts.MinimumAmount) {
		return Handle{}, fmt.Errorf("%w: %s < %s %s", ErrBelowMinimum, amount.StringFixed(2), a.opts.MinimumAmount.StringFixed(2), currency)
	}
	if !dest.Active {
		return Handle{}, fmt.Errorf("%w: %s", ErrDestinationInactive, dest.ID)
	}
	if !dest.Verified {
		a.log.Warnw("submitting payout to unverified destination",
			"destination_id", dest.ID, "location_id", dest.LocationID, "reference", reference)
	}
	minor, err := ToMinorUnits(amount)
	if err != nil {
		return Handle{}, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return Handle{}, err
	}
	return a.provider.Submit(ctx, SubmitRequest{
		Destination: dest,
		AmountMinor: minor,
		Currency:    currency,
		Description: description,
		Reference:   reference,
	})
}

// QueryStatus asks the provider for the current status of a payout.
func (a *Adapter) QueryStatus(ctx context.Context, id string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return a.provider.QueryStatus(ctx, id)
}

// ToMinorUnits converts 150.25 to 15025.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.Round(2).Equal(amount) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	return amount.Shift(2).IntPart(), nil
}
