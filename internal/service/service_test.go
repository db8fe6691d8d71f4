package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/rental-payout-service/internal/gateway"
	"github.com/richardliu001/rental-payout-service/internal/model"
	"github.com/richardliu001/rental-payout-service/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testRunDate = time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// workers share one connection so sqlite never reports a locked table
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Payout{}, &model.PayoutItem{}, &model.PayoutDestination{}, &model.OutboxEvent{}))
	return db
}

type fakeRentals struct {
	mu       sync.Mutex
	records  []model.UnpaidRevenueRecord
	fetchErr error
	markErr  error
	marked   [][]string
}

func (f *fakeRentals) FetchUnpaidRevenue(context.Context, time.Time, time.Time) ([]model.UnpaidRevenueRecord, error) {
	return f.records, f.fetchErr
}

func (f *fakeRentals) MarkPaid(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, ids)
	return f.markErr
}

func (f *fakeRentals) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ids := range f.marked {
		out = append(out, ids...)
	}
	return out
}

type fakeGateway struct {
	mu       sync.Mutex
	fail     map[string]error
	noID     map[string]bool
	status   string
	calls    []string
	inFlight int
	peak     int
	delay    time.Duration
}

func (g *fakeGateway) SubmitPayout(_ context.Context, dest model.PayoutDestination, amount decimal.Decimal, currency, description, reference string) (gateway.Handle, error) {
	g.mu.Lock()
	g.calls = append(g.calls, dest.LocationID)
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if err := g.fail[dest.LocationID]; err != nil {
		return gateway.Handle{}, err
	}
	if g.noID[dest.LocationID] {
		return gateway.Handle{Status: "pending"}, nil
	}
	return gateway.Handle{ID: "gw_" + reference, Status: "pending"}, nil
}

func (g *fakeGateway) QueryStatus(context.Context, string) (string, error) {
	return g.status, nil
}

func (g *fakeGateway) submitted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func (l *fakeLocker) AcquireRunLock(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = owner
	return true, nil
}

func (l *fakeLocker) ReleaseRunLock(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != owner {
		return errors.New("not owner")
	}
	delete(l.held, key)
	return nil
}

type harness struct {
	db      *gorm.DB
	repo    *repo.Repository
	rentals *fakeRentals
	gw      *fakeGateway
	locker  *fakeLocker
	svc     *PayoutService
}

func newHarness(t *testing.T, workers int, locations ...string) *harness {
	t.Helper()
	db := openTestDB(t)
	log := zap.NewNop().Sugar()
	r := repo.NewRepository(db, nil, nil, log, time.Minute)
	for _, loc := range locations {
		require.NoError(t, db.Create(destinationFor(loc)).Error)
	}
	h := &harness{
		db:      db,
		repo:    r,
		rentals: &fakeRentals{},
		gw:      &fakeGateway{},
		locker:  &fakeLocker{},
	}
	svc, err := NewPayoutService(Dependencies{
		Repo:         r,
		Rentals:      h.rentals,
		Destinations: r,
		Gateway:      h.gw,
		Locker:       h.locker,
		Log:          log,
		Workers:      workers,
		RunTimeout:   time.Minute,
		Now:          func() time.Time { return testRunDate },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func destinationFor(loc string) *model.PayoutDestination {
	return &model.PayoutDestination{
		ID:            "D-" + loc,
		LocationID:    loc,
		HolderName:    "Bikes " + loc,
		AccountNumber: "NL91ABNA0417164300",
		RoutingCode:   "ABNANL2A",
		Currency:      "EUR",
		Active:        true,
		Verified:      true,
	}
}

func (h *harness) payoutsFor(t *testing.T, loc string) []model.Payout {
	t.Helper()
	ps, err := h.repo.ListPayouts(context.Background(), repo.PayoutFilter{LocationID: loc})
	require.NoError(t, err)
	return ps
}

func (h *harness) outboxTypes(t *testing.T, payoutID string) []string {
	t.Helper()
	var evts []model.OutboxEvent
	require.NoError(t, h.db.Where("aggregate_id = ?", payoutID).Order("id").Find(&evts).Error)
	var out []string
	for _, e := range evts {
		out = append(out, e.EventType)
	}
	return out
}
