package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/richardliu001/rental-payout-service/internal/config"
	"go.uber.org/zap"
)

// NewProvider picks the backend for the configured payout mode.
func NewProvider(mode string, cfg config.GatewayConfig, log *zap.SugaredLogger) (Provider, error) {
	switch mode {
	case config.ModeSimulation:
		return NewSimulatedProvider(log), nil
	case config.ModeLive:
		if cfg.BaseURL == "" || cfg.APIKey == "" {
			return nil, errors.New("live payout mode needs gateway.base_url and gateway.api_key")
		}
		client := &http.Client{Timeout: cfg.Timeout}
		return NewMultiSafepayProvider(cfg.BaseURL, cfg.APIKey, client, log), nil
	default:
		return nil, fmt.Errorf("unknown payout mode %q", mode)
	}
}
