package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const simulatedPrefix = "test_payout_"

// SimulatedProvider fabricates successful payouts without any network call.
// Used where the live provider has no payout sandbox.
type SimulatedProvider struct {
	log *zap.SugaredLogger
}

// NewSimulatedProvider returns SimulatedProvider.
func NewSimulatedProvider(log *zap.SugaredLogger) *SimulatedProvider {
	log.Warn("payout gateway running in SIMULATION mode: no money will move")
	return &SimulatedProvider{log: log}
}

func (p *SimulatedProvider) Name() string { return "simulated" }

// Submit returns test_payout_<reference> with status "pending".
func (p *SimulatedProvider) Submit(ctx context.Context, req SubmitRequest) (Handle, error) {
	ref := req.Reference
	if ref == "" {
		ref = uuid.NewString()
	}
	h := Handle{ID: simulatedPrefix + ref, Status: "pending"}
	p.log.Infow("simulated payout submitted",
		"gateway_payout_id", h.ID, "amount_minor", req.AmountMinor, "currency", req.Currency,
		"destination_id", req.Destination.ID)
	return h, nil
}

// QueryStatus reports every simulated payout as completed.
func (p *SimulatedProvider) QueryStatus(ctx context.Context, id string) (string, error) {
	if !strings.HasPrefix(id, simulatedPrefix) {
		return "", &IntegrationError{Provider: p.Name(), Code: "unknown_payout", Err: fmt.Errorf("payout %s was not issued by the simulator", id)}
	}
	return "completed", nil
}
