package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dscengine/core/events"
)

// ErrDSNRequired is returned when no audit database is configured.
var ErrDSNRequired = errors.New("dscd storage dsn must be configured")

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("dscd storage: not found")

// EventRecord persists one engine event for audit.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"index;not null"`
	Account    string    `gorm:"index"`
	Attributes string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"index"`
}

// PriceSample stores a raw quote returned by one oracle source.
type PriceSample struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Pair       string    `gorm:"index;not null"`
	Source     string    `gorm:"index;not null"`
	Price      string    `gorm:"not null"`
	ObservedAt time.Time
	RecordedAt time.Time
}

// PriceSnapshot stores the aggregated median pushed into a feed.
type PriceSnapshot struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Pair       string    `gorm:"index;not null"`
	Median     string    `gorm:"not null"`
	Feeders    string
	ObservedAt time.Time
	RecordedAt time.Time `gorm:"index"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EventRecord{},
		&PriceSample{},
		&PriceSnapshot{},
	)
}

// Storage wraps the dscd audit database.
type Storage struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the audit database. DSNs starting with postgres:// or
// postgresql:// use the postgres driver; anything else is handed to sqlite.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated gorm handle.
func New(db *gorm.DB) *Storage {
	return &Storage{db: db, now: time.Now}
}

// DB exposes the underlying handle.
func (s *Storage) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordEvent persists a single engine event.
func (s *Storage) RecordEvent(ctx context.Context, evt events.Event) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	if evt == nil {
		return fmt.Errorf("event required")
	}
	raw := evt.Event()
	attrs, err := json.Marshal(raw.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	rec := EventRecord{
		ID:         uuid.New(),
		Type:       raw.Type,
		Account:    primaryAccount(raw.Attributes),
		Attributes: string(attrs),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events, newest first. An empty account
// lists every account.
func (s *Storage) ListEvents(ctx context.Context, account string, limit int) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if account = strings.TrimSpace(account); account != "" {
		query = query.Where("account = ?", account)
	}
	var out []EventRecord
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return out, nil
}

// RecordSample persists a raw oracle quote.
func (s *Storage) RecordSample(ctx context.Context, pair, source string, price *big.Int, observed time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	if price == nil {
		return fmt.Errorf("quote missing price")
	}
	rec := PriceSample{
		ID:         uuid.New(),
		Pair:       pairKey(pair),
		Source:     strings.ToLower(strings.TrimSpace(source)),
		Price:      price.String(),
		ObservedAt: observed.UTC(),
		RecordedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecordSnapshot stores the aggregated median for a pair.
func (s *Storage) RecordSnapshot(ctx context.Context, pair string, median *big.Int, feeders []string, observed time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	if median == nil {
		return fmt.Errorf("snapshot missing median")
	}
	rec := PriceSnapshot{
		ID:         uuid.New(),
		Pair:       pairKey(pair),
		Median:     median.String(),
		Feeders:    strings.Join(feeders, ","),
		ObservedAt: observed.UTC(),
		RecordedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent aggregated median for the pair.
func (s *Storage) LatestSnapshot(ctx context.Context, pair string) (PriceSnapshot, error) {
	var snap PriceSnapshot
	if s == nil || s.db == nil {
		return snap, fmt.Errorf("storage not configured")
	}
	err := s.db.WithContext(ctx).
		Where("pair = ?", pairKey(pair)).
		Order("recorded_at DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("query snapshot: %w", err)
	}
	return snap, nil
}

// Emitter persists engine events as they are emitted. Write failures are
// logged rather than surfaced since the ledger change has already committed.
type Emitter struct {
	store   *Storage
	logger  *slog.Logger
	timeout time.Duration
}

// NewEmitter wires storage into the engine event stream.
func NewEmitter(store *Storage, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: store, logger: logger, timeout: 5 * time.Second}
}

// Emit implements events.Emitter.
func (e *Emitter) Emit(evt events.Event) {
	if e == nil || e.store == nil || evt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.store.RecordEvent(ctx, evt); err != nil {
		e.logger.Error("dscd: persist event", "type", evt.EventType(), "error", err)
	}
}

func pairKey(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

func primaryAccount(attrs map[string]string) string {
	for _, key := range []string{"account", "onBehalfOf", "from", "target"} {
		if v := attrs[key]; v != "" {
			return v
		}
	}
	return ""
}
