package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/richardliu001/rental-payout-service/internal/gateway"
	"github.com/richardliu001/rental-payout-service/internal/model"
	"github.com/richardliu001/rental-payout-service/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestProcessMonthlyPayouts_HappyPath(t *testing.T) {
	h := newHarness(t, 2, "L1")
	h.rentals.records = []model.UnpaidRevenueRecord{
		rec("R1", "L1", "1000.00", "10"),
		rec("R2", "L1", "500.00", "10"),
	}

	require.NoError(t, h.svc.ProcessMonthlyPayouts(context.Background()))

	ps := h.payoutsFor(t, "L1")
	require.Len(t, ps, 1)
	p, err := h.svc.GetPayout(context.Background(), ps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusProcessing, p.Status)
	assert.Equal(t, "150.00", p.TotalAmount.StringFixed(2))
	assert.True(t, p.PaidAmount.IsZero())
	assert.Equal(t, "150.00", p.RemainingAmount.StringFixed(2))
	assert.Equal(t, "2026-09-01", p.PeriodStart.Format("2006-01-02"))
	assert.Equal(t, "2026-09-30", p.PeriodEnd.Format("2006-01-02"))
	assert.Equal(t, "2026-10-18", p.DueDate.Format("2006-01-02"))
	require.NotNil(t, p.GatewayPayoutID)
	assert.Equal(t, "gw_"+p.ID, *p.GatewayPayoutID)
	require.Len(t, p.Items, 2)

	assert.ElementsMatch(t, []string{"R1", "R2"}, h.rentals.markedIDs())
	assert.Equal(t, []string{model.EventPayoutCreated, model.EventPayoutProcessing}, h.outboxTypes(t, p.ID))
	assert.Empty(t, h.locker.held)
}

func TestProcessPayouts_GatewayFailureIsolated(t *testing.T) {
	h := newHarness(t, 2, "A", "B")
	h.gw.fail = map[string]error{"A": &gateway.IntegrationError{Provider: "fake", Message: "iban rejected"}}
	h.rentals.records = []model.UnpaidRevenueRecord{
		rec("RA", "A", "200.00", "10"),
		rec("RB", "B", "300.00", "10"),
	}

	sum, err := h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Locations)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)

	a := h.payoutsFor(t, "A")
	require.Len(t, a, 1)
	assert.Equal(t, model.PayoutStatusFailed, a[0].Status)
	assert.Contains(t, a[0].FailureReason, "iban rejected")
	assert.Nil(t, a[0].GatewayPayoutID)

	b := h.payoutsFor(t, "B")
	require.Len(t, b, 1)
	assert.Equal(t, model.PayoutStatusProcessing, b[0].Status)

	assert.Equal(t, []string{"RB"}, h.rentals.markedIDs())

	require.Len(t, sum.Results, 2)
	assert.Equal(t, "A", sum.Results[0].LocationID)
	assert.Equal(t, OutcomeFailed, sum.Results[0].Outcome)
	var ie *gateway.IntegrationError
	assert.True(t, errors.As(sum.Results[0].Err(), &ie))
	assert.Equal(t, a[0].ID, sum.Results[0].PayoutID)
	assert.Equal(t, OutcomeSucceeded, sum.Results[1].Outcome)
}

func TestProcessPayouts_MissingDestinationSkipsOnlyThatLocation(t *testing.T) {
	h := newHarness(t, 3, "L1", "L3")
	require.NoError(t, h.db.Create(destinationFor("L4")).Error)
	require.NoError(t, h.db.Model(&model.PayoutDestination{}).Where("id = ?", "D-L4").Update("active", false).Error)
	h.rentals.records = []model.UnpaidRevenueRecord{
		rec("R1", "L1", "100", "10"),
		rec("R2", "L2", "100", "10"),
		rec("R3", "L3", "100", "10"),
		rec("R4", "L4", "100", "10"),
	}

	sum, err := h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)

	assert.Len(t, h.payoutsFor(t, "L1"), 1)
	assert.Empty(t, h.payoutsFor(t, "L2"))
	assert.Len(t, h.payoutsFor(t, "L3"), 1)
	assert.Empty(t, h.payoutsFor(t, "L4"))

	byLoc := map[string]LocationResult{}
	for _, r := range sum.Results {
		byLoc[r.LocationID] = r
	}
	assert.ErrorIs(t, byLoc["L2"].Err(), ErrDestinationNotConfigured)
	assert.ErrorIs(t, byLoc["L4"].Err(), ErrDestinationInactive)
	assert.ElementsMatch(t, []string{"L1", "L3"}, h.gw.submitted())
	assert.ElementsMatch(t, []string{"R1", "R3"}, h.rentals.markedIDs())
}

func TestProcessPayouts_ZeroTotalCreatesNothing(t *testing.T) {
	h := newHarness(t, 1, "L1", "L2")
	h.rentals.records = []model.UnpaidRevenueRecord{
		rec("R1", "L1", "100", "0"),
		rec("R2", "L1", "", "10"),
		rec("R3", "L2", "-40", "10"),
	}

	sum, err := h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Skipped)
	assert.Empty(t, h.payoutsFor(t, ""))
	assert.Empty(t, h.gw.submitted())
	assert.Empty(t, h.rentals.markedIDs())
}

func TestProcessPayouts_SkipsIncompleteRecords(t *testing.T) {
	h := newHarness(t, 1, "L1")
	h.rentals.records = []model.UnpaidRevenueRecord{
		rec("R1", "L1", "100", "10"),
		rec("R2", "L1", "", "10"),
	}

	_, err := h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	require.NoError(t, err)
	ps := h.payoutsFor(t, "L1")
	require.Len(t, ps, 1)
	assert.Equal(t, "10.00", ps[0].TotalAmount.StringFixed(2))
	assert.Equal(t, []string{"R1"}, h.rentals.markedIDs())
}

func TestProcessPayouts_FetchFailureAborts(t *testing.T) {
	h := newHarness(t, 1, "L1")
	h.rentals.fetchErr = errors.New("rental service unavailable")

	err := h.svc.ProcessMonthlyPayouts(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailure)
	assert.ErrorContains(t, err, "rental service unavailable")
	assert.Empty(t, h.payoutsFor(t, ""))
	assert.Empty(t, h.gw.submitted())
	assert.Empty(t, h.locker.held)
}

func TestProcessPayouts_NoRecords(t *testing.T) {
	h := newHarness(t, 1, "L1")

	sum, err := h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	require.NoError(t, err)
	assert.Zero(t, sum.Records)
	assert.Zero(t, sum.Locations)
	assert.Equal(t, "2026-09", sum.Period)
	assert.Empty(t, h.payoutsFor(t, ""))
}

func TestProcessPayouts_DiscardsRecordsWithoutLocation(t *testing.T) {
	h := newHarness(t, 1, "L1")
	h.rentals.records = []model.UnpaidRevenueRecord{
		rec("R1", "L1", "100", "10"),
		rec("R2", "", "100", "10"),
	}

	sum, err := h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Discarded)
	assert.Equal(t, 1, sum.Locations)
	assert.Equal(t, []string{"R1"}, h.rentals.markedIDs())
}

func TestProcessPayouts_MarkPaidFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, 1, "L1")
	h.rentals.markErr = errors.New("rental service timeout")
	h.rentals.records = []model.UnpaidRevenueRecord{rec("R1", "L1", "100", "10")}

	sum, err := h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	ps := h.payoutsFor(t, "L1")
	require.Len(t, ps, 1)
	assert.Equal(t, model.PayoutStatusProcessing, ps[0].Status)
}

func TestProcessPayouts_MissingGatewayID(t *testing.T) {
	h := newHarness(t, 1, "L1")
	h.gw.noID = map[string]bool{"L1": true}
	h.rentals.records = []model.UnpaidRevenueRecord{rec("R1", "L1", "100", "10")}

	sum, err := h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.ErrorIs(t, sum.Results[0].Err(), ErrMissingGatewayID)
	ps := h.payoutsFor(t, "L1")
	require.Len(t, ps, 1)
	assert.Equal(t, model.PayoutStatusFailed, ps[0].Status)
	assert.Empty(t, h.rentals.markedIDs())
}

func TestProcessPayouts_RunLockHeld(t *testing.T) {
	h := newHarness(t, 1, "L1")
	h.rentals.records = []model.UnpaidRevenueRecord{rec("R1", "L1", "100", "10")}
	ok, err := h.locker.AcquireRunLock(context.Background(), "payout-run:2026-09", "other", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, h.payoutsFor(t, ""))

	// another period is not blocked
	_, err = h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate.AddDate(0, 1, 0))
	assert.NoError(t, err)
}

func TestProcessPayouts_CancelledRun(t *testing.T) {
	h := newHarness(t, 2, "L1", "L2")
	h.rentals.records = []model.UnpaidRevenueRecord{
		rec("R1", "L1", "100", "10"),
		rec("R2", "L2", "100", "10"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.svc.ProcessPayoutsForRunDate(ctx, testRunDate)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Cancelled)
	assert.Empty(t, h.payoutsFor(t, ""))
	assert.Empty(t, h.gw.submitted())
}

func TestProcessPayouts_BoundedConcurrency(t *testing.T) {
	var locs []string
	var records []model.UnpaidRevenueRecord
	for i := 0; i < 12; i++ {
		loc := fmt.Sprintf("L%02d", i)
		locs = append(locs, loc)
		records = append(records, rec("R"+loc, loc, "250.00", "12.5"))
	}
	h := newHarness(t, 3, locs...)
	h.gw.delay = 10 * time.Millisecond
	h.rentals.records = records

	sum, err := h.svc.ProcessPayoutsForRunDate(context.Background(), testRunDate)
	require.NoError(t, err)
	assert.Equal(t, 12, sum.Succeeded)
	assert.LessOrEqual(t, h.gw.peak, 3)
	assert.Len(t, h.payoutsFor(t, ""), 12)
	for i, r := range sum.Results {
		assert.Equal(t, locs[i], r.LocationID)
	}
}

func TestProcessPayouts_RunTimeoutMidRun(t *testing.T) {
	h := newHarness(t, 1, "L1", "L2", "L3")
	ctx := context.Background()
	pending := newTestPayout(t, h)
	processing := processingPayout(t, h)

	h.svc.runTimeout = 50 * time.Millisecond
	h.gw.delay = 200 * time.Millisecond
	h.rentals.records = []model.UnpaidRevenueRecord{
		rec("RA", "L1", "100", "10"),
		rec("RB", "L2", "100", "10"),
		rec("RC", "L3", "100", "10"),
	}

	sum, err := h.svc.ProcessPayoutsForRunDate(ctx, testRunDate)
	require.NoError(t, err)
	require.Len(t, sum.Results, 3)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, sum.Cancelled)

	// the location already at the gateway when the deadline hit ran to the end
	inFlight := sum.Results[0]
	assert.Equal(t, OutcomeSucceeded, inFlight.Outcome)
	p, err := h.svc.GetPayout(ctx, inFlight.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusProcessing, p.Status)
	assert.Equal(t, []string{"RA"}, h.rentals.markedIDs())

	for _, r := range sum.Results[1:] {
		assert.Equal(t, OutcomeCancelled, r.Outcome)
		assert.ErrorIs(t, r.Err(), context.DeadlineExceeded)
		assert.Empty(t, r.PayoutID)
	}
	assert.Equal(t, []string{"L1"}, h.gw.submitted())
	assert.Empty(t, h.payoutsFor(t, "L2"))
	assert.Empty(t, h.payoutsFor(t, "L3"))

	got, err := h.svc.GetPayout(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusPending, got.Status)
	got, err = h.svc.GetPayout(ctx, processing.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusProcessing, got.Status)
}

func TestProcessPayouts_BillingTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	h := newHarness(t, 1, "L1")
	h.svc.loc = ny
	h.rentals.records = []model.UnpaidRevenueRecord{rec("R1", "L1", "100", "10")}

	sum, err := h.svc.ProcessPayoutsForRunDate(context.Background(), time.Date(2026, 10, 1, 0, 0, 0, 0, ny))
	require.NoError(t, err)
	assert.Equal(t, "2026-09", sum.Period)

	// 01:00 UTC on Nov 1 is still Oct 31 in New York
	sum, err = h.svc.ProcessPayoutsForRunDate(context.Background(), time.Date(2026, 11, 1, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-09", sum.Period)
	assert.Equal(t, "2026-09-30", sum.PeriodEnd.Format("2006-01-02"))
}

// processingWriteFails fails the ledger write that moves a payout to PROCESSING.
type processingWriteFails struct {
	repo.RepositoryInterface
	fail bool
}

func (r *processingWriteFails) UpdatePayout(ctx context.Context, tx *gorm.DB, id string, fields map[string]interface{}) error {
	if r.fail && fields["status"] == model.PayoutStatusProcessing {
		return errors.New("connection reset")
	}
	return r.RepositoryInterface.UpdatePayout(ctx, tx, id, fields)
}

func TestProcessPayouts_AcceptedButNotMarkedProcessing(t *testing.T) {
	h := newHarness(t, 1, "L1")
	ctx := context.Background()
	flaky := &processingWriteFails{RepositoryInterface: h.repo, fail: true}
	svc, err := NewPayoutService(Dependencies{
		Repo:         flaky,
		Rentals:      h.rentals,
		Destinations: h.repo,
		Gateway:      h.gw,
		Locker:       h.locker,
		Log:          zap.NewNop().Sugar(),
		Now:          func() time.Time { return testRunDate },
	})
	require.NoError(t, err)
	h.rentals.records = []model.UnpaidRevenueRecord{rec("R1", "L1", "100", "10")}

	sum, err := svc.ProcessPayoutsForRunDate(ctx, testRunDate)
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)

	p, err := svc.GetPayout(ctx, sum.Results[0].PayoutID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusPending, p.Status)
	require.NotNil(t, p.GatewayPayoutID)
	assert.Equal(t, "gw_"+p.ID, *p.GatewayPayoutID)
	assert.Equal(t, []string{"R1"}, h.rentals.markedIDs())

	// resubmitting would move the money a second time
	_, err = svc.SubmitPendingPayout(ctx, p.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, h.gw.submitted(), 1)

	flaky.fail = false
	h.gw.status = "pending"
	p, err = svc.SyncPayoutStatus(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusProcessing, p.Status)
	assert.Equal(t, "gw_"+p.ID, *p.GatewayPayoutID)
	assert.Len(t, h.gw.submitted(), 1)
}

func TestGetDestination(t *testing.T) {
	h := newHarness(t, 1, "L1")
	d, err := h.svc.GetDestination(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, "D-L1", d.ID)

	_, err = h.svc.GetDestination(context.Background(), "L9")
	assert.ErrorIs(t, err, ErrDestinationNotConfigured)
}
