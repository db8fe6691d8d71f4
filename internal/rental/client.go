package rental

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/richardliu001/rental-payout-service/internal/model"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// ErrAlreadyPaid is returned when the rental service refuses to mark a rental
// paid a second time. The rental service must reject such requests and must
// exclude paid rentals from FetchUnpaidRevenue; runs do not deduplicate.
var ErrAlreadyPaid = errors.New("rental already marked paid")

// Client talks to the rental service.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.SugaredLogger
}

// NewClient returns Client.
func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// FetchUnpaidRevenue lists unpaid rental revenue between start and end, inclusive.
func (c *Client) FetchUnpaidRevenue(ctx context.Context, start, end time.Time) ([]model.UnpaidRevenueRecord, error) {
	q := url.Values{}
	q.Set("from", start.Format(dateLayout))
	q.Set("to", end.Format(dateLayout))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/internal/revenue/unpaid?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch unpaid revenue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch unpaid revenue: status %d: %s", resp.StatusCode, string(body))
	}
	var records []model.UnpaidRevenueRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode unpaid revenue: %w", err)
	}
	c.log.Debugf("fetched %d unpaid revenue records for %s..%s", len(records), start.Format(dateLayout), end.Format(dateLayout))
	return records, nil
}

type markPaidReq struct {
	RentalIDs []string `json:"rental_ids"`
}

// MarkPaid flags rentals as paid out.
func (c *Client) MarkPaid(ctx context.Context, rentalIDs []string) error {
	if len(rentalIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(markPaidReq{RentalIDs: rentalIDs})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/rentals/mark-paid", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mark rentals paid: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrAlreadyPaid, string(body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("mark rentals paid: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
