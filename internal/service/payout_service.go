package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/rental-payout-service/internal/gateway"
	"github.com/richardliu001/rental-payout-service/internal/model"
	"github.com/richardliu001/rental-payout-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RentalSource is the rental service. It must leave rentals already marked
// paid out of FetchUnpaidRevenue and reject marking a rental paid twice.
type RentalSource interface {
	FetchUnpaidRevenue(ctx context.Context, start, end time.Time) ([]model.UnpaidRevenueRecord, error)
	MarkPaid(ctx context.Context, rentalIDs []string) error
}

// PayoutGateway moves money.
type PayoutGateway interface {
	SubmitPayout(ctx context.Context, dest model.PayoutDestination, amount decimal.Decimal, currency, description, reference string) (gateway.Handle, error)
	QueryStatus(ctx context.Context, id string) (string, error)
}

// RunLocker guards a billing period against concurrent runs.
type RunLocker interface {
	AcquireRunLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, key, owner string) error
}

// Outcome classifies how a location ended in a run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCancelled Outcome = "cancelled"
)

// LocationResult is the per-location result of a run.
type LocationResult struct {
	LocationID string  `json:"location_id"`
	Outcome    Outcome `json:"outcome"`
	PayoutID   string  `json:"payout_id,omitempty"`
	Error      string  `json:"error,omitempty"`
	err        error
}

// Err returns the error that caused a failure or skip.
func (r LocationResult) Err() error { return r.err }

// RunSummary reports counts for one processing run.
type RunSummary struct {
	Period      string           `json:"period"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	Records     int              `json:"records"`
	Discarded   int              `json:"discarded"`
	Locations   int              `json:"locations"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	Skipped     int              `json:"skipped"`
	Cancelled   int              `json:"cancelled"`
	Results     []LocationResult `json:"results"`
	Duration    time.Duration    `json:"duration"`
}

// Dependencies wires PayoutService. Locker is optional.
type Dependencies struct {
	Repo         repo.RepositoryInterface
	Rentals      RentalSource
	Destinations DestinationRegistry
	Gateway      PayoutGateway
	Locker       RunLocker
	Log          *zap.SugaredLogger

	Workers    int
	RunTimeout time.Duration
	LockTTL    time.Duration
	Location   *time.Location
	Now        func() time.Time
}

// PayoutService runs the monthly revenue-share payouts.
type PayoutService struct {
	repo     repo.RepositoryInterface
	ledger   *Ledger
	resolver *DestinationResolver
	rentals  RentalSource
	gateway  PayoutGateway
	locker   RunLocker
	log      *zap.SugaredLogger

	workers    int
	runTimeout time.Duration
	lockTTL    time.Duration
	loc        *time.Location
	now        func() time.Time
}

// NewPayoutService validates deps and fills defaults.
func NewPayoutService(d Dependencies) (*PayoutService, error) {
	if d.Repo == nil {
		return nil, fmt.Errorf("new payout service: repository is nil")
	}
	if d.Rentals == nil {
		return nil, fmt.Errorf("new payout service: rental source is nil")
	}
	if d.Destinations == nil {
		return nil, fmt.Errorf("new payout service: destination registry is nil")
	}
	if d.Gateway == nil {
		return nil, fmt.Errorf("new payout service: gateway is nil")
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.Workers <= 0 {
		d.Workers = 1
	}
	if d.LockTTL <= 0 {
		d.LockTTL = time.Hour
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &PayoutService{
		repo:       d.Repo,
		ledger:     NewLedger(d.Repo, d.Log),
		resolver:   NewDestinationResolver(d.Destinations, d.Log),
		rentals:    d.Rentals,
		gateway:    d.Gateway,
		locker:     d.Locker,
		log:        d.Log,
		workers:    d.Workers,
		runTimeout: d.RunTimeout,
		lockTTL:    d.LockTTL,
		loc:        d.Location,
		now:        d.Now,
	}, nil
}

// BillingLocation is the timezone billing periods are computed in.
func (s *PayoutService) BillingLocation() *time.Location { return s.loc }

// Ledger exposes the payout ledger.
func (s *PayoutService) Ledger() *Ledger { return s.ledger }

// ProcessMonthlyPayouts pays out last month's unpaid revenue. Only a failure
// to fetch revenue (or to take the run lock) is returned; per-location
// failures end up as FAILED payouts and in the logged summary.
func (s *PayoutService) ProcessMonthlyPayouts(ctx context.Context) error {
	_, err := s.ProcessPayoutsForRunDate(ctx, s.now())
	return err
}

// ProcessPayoutsForRunDate runs the payout algorithm as if started on runDate.
func (s *PayoutService) ProcessPayoutsForRunDate(ctx context.Context, runDate time.Time) (RunSummary, error) {
	started := time.Now()
	start, end := BillingPeriod(runDate.In(s.loc))
	sum := RunSummary{Period: periodKey(start), PeriodStart: start, PeriodEnd: end}
	log := s.log.With("period", sum.Period)

	if s.locker != nil {
		key, owner := "payout-run:"+sum.Period, uuid.NewString()
		ok, err := s.locker.AcquireRunLock(ctx, key, owner, s.lockTTL)
		if err != nil {
			return sum, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return sum, fmt.Errorf("%w: %s", ErrRunInProgress, sum.Period)
		}
		defer func() {
			if err := s.locker.ReleaseRunLock(context.WithoutCancel(ctx), key, owner); err != nil {
				log.Warnw("release run lock", "error", err)
			}
		}()
	}

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	log.Infof("payout run started for %s..%s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	records, err := s.rentals.FetchUnpaidRevenue(ctx, start, end)
	if err != nil {
		log.Errorw("payout run aborted", "error", err)
		return sum, fmt.Errorf("%w: %w", ErrFetchFailure, err)
	}
	sum.Records = len(records)
	if len(records) == 0 {
		log.Info("no unpaid revenue, nothing to pay out")
		sum.Duration = time.Since(started)
		return sum, nil
	}

	tasks, discarded := groupByLocation(records)
	sum.Discarded = discarded
	sum.Locations = len(tasks)
	if discarded > 0 {
		log.Warnf("discarded %d revenue records without location", discarded)
	}
	for i := range tasks {
		tasks[i].periodStart, tasks[i].periodEnd = start, end
	}

	sum.Results = runPool(ctx, s.workers, tasks, s.processLocation, func(t locationTask, err error) LocationResult {
		return LocationResult{LocationID: t.locationID, Outcome: OutcomeCancelled, Error: err.Error(), err: err}
	})
	for _, r := range sum.Results {
		switch r.Outcome {
		case OutcomeSucceeded:
			sum.Succeeded++
		case OutcomeFailed:
			sum.Failed++
		case OutcomeSkipped:
			sum.Skipped++
		case OutcomeCancelled:
			sum.Cancelled++
		}
	}
	sum.Duration = time.Since(started)
	log.Infow("payout run finished",
		"locations", sum.Locations, "succeeded", sum.Succeeded, "failed", sum.Failed,
		"skipped", sum.Skipped, "cancelled", sum.Cancelled, "duration", sum.Duration.String())
	return sum, nil
}

type locationTask struct {
	locationID  string
	records     []model.UnpaidRevenueRecord
	periodStart time.Time
	periodEnd   time.Time
}

func groupByLocation(records []model.UnpaidRevenueRecord) ([]locationTask, int) {
	byLoc := make(map[string][]model.UnpaidRevenueRecord)
	discarded := 0
	for _, r := range records {
		if r.LocationID == "" {
			discarded++
			continue
		}
		byLoc[r.LocationID] = append(byLoc[r.LocationID], r)
	}
	ids := make([]string, 0, len(byLoc))
	for id := range byLoc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tasks := make([]locationTask, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, locationTask{locationID: id, records: byLoc[id]})
	}
	return tasks, discarded
}

// processLocation runs one location's pipeline. Once a location has started it
// runs to the end even if the run is cancelled, so a persisted payout is
// never left half-submitted by cancellation.
func (s *PayoutService) processLocation(ctx context.Context, t locationTask) (res LocationResult) {
	ctx = context.WithoutCancel(ctx)
	log := s.log.With("location_id", t.locationID)
	res = LocationResult{LocationID: t.locationID}
	fail := func(outcome Outcome, err error) LocationResult {
		res.Outcome, res.err, res.Error = outcome, err, err.Error()
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("location payout panicked", "panic", r, "payout_id", res.PayoutID)
			res = fail(OutcomeFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	dest, err := s.resolver.Resolve(ctx, t.locationID)
	if err != nil {
		log.Errorw("skipping location: destination", "error", err)
		return fail(OutcomeFailed, err)
	}

	calc := Calculate(t.records)
	for _, r := range calc.Skipped {
		log.Warnw("revenue record missing amount or share, skipped", "rental_id", r.RentalID)
	}
	if !calc.Total.IsPositive() {
		log.Infow("nothing to pay", "total", calc.Total.StringFixed(2))
		return fail(OutcomeSkipped, ErrZeroOrNegativeAmount)
	}

	p, err := s.ledger.Create(ctx, NewPayout{
		LocationID:  t.locationID,
		Destination: dest.Destination,
		Calculation: calc,
		PeriodStart: t.periodStart,
		PeriodEnd:   t.periodEnd,
		DueDate:     s.today(),
	})
	if err != nil {
		log.Errorw("persist payout", "error", err)
		return fail(OutcomeFailed, err)
	}
	res.PayoutID = p.ID

	if err := s.submit(ctx, p, dest.Destination, calc.RentalIDs()); err != nil {
		return fail(OutcomeFailed, err)
	}
	res.Outcome = OutcomeSucceeded
	return res
}

// submit sends a PENDING payout to the gateway and reconciles the ledger and
// the rental service with the answer.
func (s *PayoutService) submit(ctx context.Context, p *model.Payout, dest model.PayoutDestination, rentalIDs []string) error {
	log := s.log.With("location_id", p.LocationID, "payout_id", p.ID)
	desc := fmt.Sprintf("Revenue share %s %s", p.LocationID, p.PeriodStart.Format("2006-01"))

	h, err := s.gateway.SubmitPayout(ctx, dest, p.TotalAmount, p.Currency, desc, p.ID)
	if err == nil && h.ID == "" {
		err = ErrMissingGatewayID
	}
	if err != nil {
		log.Errorw("gateway submission failed", "error", err)
		if _, mErr := s.ledger.MarkFailed(ctx, p.ID, err.Error()); mErr != nil {
			log.Errorw("mark payout failed", "error", mErr)
		}
		return err
	}

	if _, err := s.ledger.MarkProcessing(ctx, p.ID, h.ID, s.today()); err != nil {
		// Money is moving; the rentals are still marked paid below so the
		// next run does not pay them again. A recorded gateway id keeps the
		// payout out of SubmitPendingPayout and lets SyncPayoutStatus pick it up.
		log.Errorw("gateway accepted payout but ledger update failed, reconcile manually",
			"gateway_payout_id", h.ID, "error", err)
		if rErr := s.ledger.RecordGatewayID(ctx, p.ID, h.ID); rErr != nil {
			log.Errorw("record gateway payout id", "gateway_payout_id", h.ID, "error", rErr)
		}
	} else {
		log.Infow("payout processing", "gateway_payout_id", h.ID, "amount", p.TotalAmount.StringFixed(2), "currency", p.Currency)
	}

	if err := s.rentals.MarkPaid(ctx, rentalIDs); err != nil {
		log.Errorw("rentals not marked paid, reconcile manually",
			"error", fmt.Errorf("%w: %w", ErrMarkPaidFailure, err), "rental_ids", rentalIDs)
	}
	return nil
}

func (s *PayoutService) today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.loc)
}

// GetPayout returns a payout with its items.
func (s *PayoutService) GetPayout(ctx context.Context, id string) (*model.Payout, error) {
	p, err := s.repo.GetPayout(ctx, s.repo.DB(ctx), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPayoutNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

// ListPayouts returns payouts for reconciliation by location and status.
func (s *PayoutService) ListPayouts(ctx context.Context, f repo.PayoutFilter) ([]model.Payout, error) {
	return s.repo.ListPayouts(ctx, f)
}

// GetDestination returns a location's payout destination for display. It may
// be up to the cache TTL old; payout decisions never use it.
func (s *PayoutService) GetDestination(ctx context.Context, locationID string) (*model.PayoutDestination, error) {
	d, err := s.repo.CachedDestinationByLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: location %s", ErrDestinationNotConfigured, locationID)
	}
	return d, nil
}
