package service

import "errors"

var (
	// ErrFetchFailure aborts a whole run: there is nothing to group.
	ErrFetchFailure = errors.New("fetch unpaid revenue failed")
	// ErrDestinationNotConfigured skips a location that has no bank destination.
	ErrDestinationNotConfigured = errors.New("payout destination not configured")
	// ErrDestinationInactive skips a location whose destination is switched off.
	ErrDestinationInactive = errors.New("payout destination inactive")
	// ErrZeroOrNegativeAmount means a location has nothing to pay.
	ErrZeroOrNegativeAmount = errors.New("nothing to pay")
	// ErrMarkPaidFailure is logged only; the payout stays PROCESSING.
	ErrMarkPaidFailure = errors.New("mark rentals paid failed")
	// ErrMissingGatewayID means the gateway accepted a payout without identifying it.
	ErrMissingGatewayID = errors.New("gateway response carried no payout id")

	ErrInvalidTransition = errors.New("invalid payout status transition")
	ErrUnbalancedPayout  = errors.New("payout items do not sum to total")
	ErrPayoutNotFound    = errors.New("payout not found")
	ErrRunInProgress     = errors.New("payout run already in progress")
)
