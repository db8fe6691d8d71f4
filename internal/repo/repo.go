package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/rental-payout-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLockNotHeld is returned when releasing a run lock owned by someone else.
var ErrLockNotHeld = errors.New("run lock not held")

// PayoutFilter narrows ListPayouts. Zero fields are ignored.
type PayoutFilter struct {
	LocationID string
	Status     model.PayoutStatus
	Limit      int
}

// RepositoryInterface restricts Repo methods so services can be tested with fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	CreatePayout(ctx context.Context, tx *gorm.DB, p *model.Payout) error
	GetPayout(ctx context.Context, db *gorm.DB, id string) (*model.Payout, error)
	GetPayoutForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Payout, error)
	UpdatePayout(ctx context.Context, tx *gorm.DB, id string, fields map[string]interface{}) error
	ListPayouts(ctx context.Context, f PayoutFilter) ([]model.Payout, error)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	FindDestinationByLocation(ctx context.Context, locationID string) (*model.PayoutDestination, error)
	CachedDestinationByLocation(ctx context.Context, locationID string) (*model.PayoutDestination, error)
	AcquireRunLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, key, owner string) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db       *gorm.DB
	rdb      *redis.Client
	writer   *kafka.Writer
	log      *zap.SugaredLogger
	cacheTTL time.Duration
}

// NewRepository constructs repo. rdb may be nil, which disables the
// destination cache and makes run locks always succeed.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger, cacheTTL time.Duration) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger, cacheTTL: cacheTTL}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreatePayout inserts the payout together with its items.
func (r *Repository) CreatePayout(ctx context.Context, tx *gorm.DB, p *model.Payout) error {
	return tx.WithContext(ctx).Create(p).Error
}

// GetPayout loads a payout and its items.
func (r *Repository) GetPayout(ctx context.Context, db *gorm.DB, id string) (*model.Payout, error) {
	var p model.Payout
	if err := db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPayoutForUpdate locks the payout row.
func (r *Repository) GetPayoutForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Payout, error) {
	var p model.Payout
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePayout writes the given columns.
func (r *Repository) UpdatePayout(ctx context.Context, tx *gorm.DB, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	res := tx.WithContext(ctx).Model(&model.Payout{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListPayouts returns payouts newest first.
func (r *Repository) ListPayouts(ctx context.Context, f PayoutFilter) ([]model.Payout, error) {
	q := r.db.WithContext(ctx).Model(&model.Payout{})
	if f.LocationID != "" {
		q = q.Where("location_id = ?", f.LocationID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []model.Payout
	err := q.Order("created_at desc").Find(&out).Error
	return out, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka keyed by payout id so one payout's events stay ordered.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return errors.New("publish event: no kafka writer configured")
	}
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "outbox_id", Value: []byte(fmt.Sprintf("%d", evt.ID))},
		},
		Time: time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// FindDestinationByLocation reads the registry row, or nil when none is
// registered. Payout decisions go through here, so it never answers from the
// cache; a hit refreshes the cached copy for CachedDestinationByLocation.
func (r *Repository) FindDestinationByLocation(ctx context.Context, locationID string) (*model.PayoutDestination, error) {
	var d model.PayoutDestination
	err := r.db.WithContext(ctx).Where("location_id = ?", locationID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.cacheDestination(ctx, &d); err != nil {
		r.log.Warnw("destination cache write failed", "location_id", locationID, "error", err)
	}
	return &d, nil
}

// CachedDestinationByLocation serves admin reads from Redis for up to
// cacheTTL, falling back to the registry on a miss.
func (r *Repository) CachedDestinationByLocation(ctx context.Context, locationID string) (*model.PayoutDestination, error) {
	if d, err := r.getCachedDestination(ctx, locationID); err == nil {
		return d, nil
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warnw("destination cache read failed", "location_id", locationID, "error", err)
	}
	return r.FindDestinationByLocation(ctx, locationID)
}

func destinationKey(locationID string) string { return "destination:" + locationID }

func (r *Repository) cacheDestination(ctx context.Context, d *model.PayoutDestination) error {
	if r.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, destinationKey(d.LocationID), string(raw), r.cacheTTL).Err()
}

func (r *Repository) getCachedDestination(ctx context.Context, locationID string) (*model.PayoutDestination, error) {
	if r.rdb == nil {
		return nil, redis.Nil
	}
	str, err := r.rdb.Get(ctx, destinationKey(locationID)).Result()
	if err != nil {
		return nil, err
	}
	var d model.PayoutDestination
	if err := json.Unmarshal([]byte(str), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// AcquireRunLock takes a Redis lock for key. It reports false if another
// owner already holds it.
func (r *Repository) AcquireRunLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.rdb == nil {
		return true, nil
	}
	return r.rdb.SetNX(ctx, "lock:"+key, owner, ttl).Result()
}

// ReleaseRunLock drops the lock if owner still holds it.
func (r *Repository) ReleaseRunLock(ctx context.Context, key, owner string) error {
	if r.rdb == nil {
		return nil
	}
	cur, err := r.rdb.Get(ctx, "lock:"+key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrLockNotHeld
	}
	if err != nil {
		return err
	}
	if cur != owner {
		return ErrLockNotHeld
	}
	return r.rdb.Del(ctx, "lock:"+key).Err()
}
