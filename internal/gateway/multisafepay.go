package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// MultiSafepayProvider talks to the live MultiSafepay payout API.
type MultiSafepayProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.SugaredLogger
}

// NewMultiSafepayProvider returns MultiSafepayProvider.
func NewMultiSafepayProvider(baseURL, apiKey string, client *http.Client, log *zap.SugaredLogger) *MultiSafepayProvider {
	return &MultiSafepayProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		log:     log,
	}
}

func (p *MultiSafepayProvider) Name() string { return "multisafepay" }

type payoutBeneficiary struct {
	Name string `json:"name"`
	IBAN string `json:"iban"`
	BIC  string `json:"bic,omitempty"`
}

type payoutRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Reference   string            `json:"reference"`
	Beneficiary payoutBeneficiary `json:"beneficiary"`
}

// Submit creates the payout. The reference doubles as idempotency key.
func (p *MultiSafepayProvider) Submit(ctx context.Context, req SubmitRequest) (Handle, error) {
	payload, err := json.Marshal(payoutRequest{
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		Description: req.Description,
		Reference:   req.Reference,
		Beneficiary: payoutBeneficiary{
			Name: req.Destination.HolderName,
			IBAN: req.Destination.AccountNumber,
			BIC:  req.Destination.RoutingCode,
		},
	})
	if err != nil {
		return Handle{}, &IntegrationError{Provider: p.Name(), Err: err}
	}

	body, err := p.do(ctx, http.MethodPost, "/payouts", payload, req.Reference)
	if err != nil {
		return Handle{}, err
	}
	h := Handle{}
	h.ID, _ = ExtractPayoutID(body)
	h.Status, _ = ExtractStatus(body)
	p.log.Infow("payout submitted", "gateway_payout_id", h.ID, "status", h.Status, "reference", req.Reference)
	return h, nil
}

// QueryStatus fetches the payout and returns its status.
func (p *MultiSafepayProvider) QueryStatus(ctx context.Context, id string) (string, error) {
	body, err := p.do(ctx, http.MethodGet, "/payouts/"+url.PathEscape(id), nil, "")
	if err != nil {
		return "", err
	}
	status, ok := ExtractStatus(body)
	if !ok {
		return "", &IntegrationError{Provider: p.Name(), Message: "status missing in response for payout " + id}
	}
	return status, nil
}

func (p *MultiSafepayProvider) do(ctx context.Context, method, path string, payload []byte, idemKey string) (map[string]interface{}, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, &IntegrationError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("api_key", p.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &IntegrationError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &IntegrationError{Provider: p.Name(), StatusCode: resp.StatusCode, Err: err}
	}
	body := decodeBody(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code, info := errorDetails(body)
		if info == "" {
			info = truncate(string(raw), 256)
		}
		return nil, &IntegrationError{Provider: p.Name(), StatusCode: resp.StatusCode, Code: code, Message: info}
	}
	if body == nil {
		return nil, &IntegrationError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: "response is not a JSON object"}
	}
	if ok, present := body["success"].(bool); present && !ok {
		code, info := errorDetails(body)
		return nil, &IntegrationError{Provider: p.Name(), StatusCode: resp.StatusCode, Code: code, Message: info}
	}
	return body, nil
}

func errorDetails(body map[string]interface{}) (code, info string) {
	if body == nil {
		return "", ""
	}
	if v, ok := body["error_code"]; ok && v != nil {
		code = fmt.Sprint(v)
	}
	if v, ok := body["error_info"].(string); ok {
		info = v
	}
	return code, info
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
