package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	pricefeed "dscengine/native/oracle"
	"dscengine/observability"
	"dscengine/services/dscd/storage"
)

// Quote is a single upstream answer with 8 decimals of USD precision.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
}

// Source resolves a price quote for a pair such as "ETH/USD".
type Source interface {
	Name() string
	Fetch(ctx context.Context, base, quote string) (Quote, error)
}

// Recorder persists samples and aggregated snapshots.
type Recorder interface {
	RecordSample(ctx context.Context, pair, source string, price *big.Int, observed time.Time) error
	RecordSnapshot(ctx context.Context, pair string, median *big.Int, feeders []string, observed time.Time) error
}

// ErrInsufficientFeeds is returned when fewer than min_feeds quotes survive
// filtering.
var ErrInsufficientFeeds = errors.New("insufficient oracle feeds")

// futureSkew tolerates small clock drift between sources and the daemon.
const futureSkew = 5 * time.Second

// Manager polls sources on an interval and pushes the median into feeds.
type Manager struct {
	logger   *slog.Logger
	recorder Recorder
	metrics  *observability.OracleMetrics
	sources  []Source
	feeds    map[string]*pricefeed.Feed
	pairs    []string
	minFeeds int
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	once     sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder persists every sample and snapshot.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithMetrics reports rounds to the oracle metrics registry.
func WithMetrics(metrics *observability.OracleMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New constructs a manager over the supplied pair feeds.
func New(sources []Source, pairFeeds []*pricefeed.Feed, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Manager, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if len(pairFeeds) == 0 {
		return nil, fmt.Errorf("at least one feed required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	mgr := &Manager{
		logger:   slog.Default(),
		sources:  append([]Source{}, sources...),
		feeds:    make(map[string]*pricefeed.Feed, len(pairFeeds)),
		interval: interval,
		maxAge:   maxAge,
		minFeeds: minFeeds,
		now:      time.Now,
	}
	for _, feed := range pairFeeds {
		if feed == nil {
			return nil, fmt.Errorf("nil feed")
		}
		pair := normalisePair(feed.Pair())
		if _, _, err := splitPair(pair); err != nil {
			return nil, err
		}
		if _, dup := mgr.feeds[pair]; dup {
			continue
		}
		mgr.feeds[pair] = feed
		mgr.pairs = append(mgr.pairs, pair)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, periodically polling upstream feeds until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("dscd: oracle manager started", "sources", len(m.sources), "pairs", len(m.pairs))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("dscd: oracle tick", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one aggregation cycle. Every pair is attempted; the returned
// error joins the failures.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	var errs []error
	for _, pair := range m.pairs {
		if err := m.processPair(ctx, pair); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) processPair(ctx context.Context, pair string) error {
	base, quote, err := splitPair(pair)
	if err != nil {
		return err
	}
	now := m.now()
	prices := make([]*big.Int, 0, len(m.sources))
	feeders := make([]string, 0, len(m.sources))
	var newest time.Time
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		q, err := src.Fetch(ctx, base, quote)
		if err != nil {
			m.logger.Warn("dscd: oracle source failed", "source", src.Name(), "pair", pair, "error", err)
			continue
		}
		if q.Price == nil || q.Price.Sign() <= 0 {
			m.logger.Warn("dscd: oracle source returned invalid price", "source", src.Name(), "pair", pair)
			continue
		}
		if q.Timestamp.After(now.Add(futureSkew)) {
			m.logger.Warn("dscd: oracle source produced future timestamp", "source", src.Name(), "pair", pair)
			continue
		}
		if q.Timestamp.Before(now.Add(-m.maxAge)) {
			m.logger.Warn("dscd: oracle quote expired", "source", src.Name(), "pair", pair, "observed", q.Timestamp)
			continue
		}
		prices = append(prices, new(big.Int).Set(q.Price))
		feeders = append(feeders, src.Name())
		if q.Timestamp.After(newest) {
			newest = q.Timestamp
		}
		if m.recorder != nil {
			if err := m.recorder.RecordSample(ctx, pair, src.Name(), q.Price, q.Timestamp); err != nil {
				m.logger.Error("dscd: record sample", "pair", pair, "error", err)
			}
		}
	}
	if len(prices) < m.minFeeds {
		m.metrics.RecordFailure(pair, "insufficient_feeds")
		return fmt.Errorf("%w for %s: have %d need %d", ErrInsufficientFeeds, pair, len(prices), m.minFeeds)
	}
	median := Median(prices)
	m.feeds[pair].Set(median, now)
	if m.recorder != nil {
		if err := m.recorder.RecordSnapshot(ctx, pair, median, feeders, now); err != nil {
			m.logger.Error("dscd: record snapshot", "pair", pair, "error", err)
		}
	}
	m.metrics.RecordUpdate(pair, priceFloat(median), now.Sub(newest))
	m.logger.Debug("dscd: oracle updated", "pair", pair, "price", pricefeed.FormatPrice(median), "feeders", feeders)
	return nil
}

// Median returns the middle value, averaging the two central values (rounded
// down) for even counts.
func Median(values []*big.Int) *big.Int {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]*big.Int, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Int).Set(sorted[mid])
	}
	sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
	return sum.Rsh(sum, 1)
}

func normalisePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

func splitPair(pair string) (string, string, error) {
	base, quote, ok := strings.Cut(pair, "/")
	base = strings.TrimSpace(base)
	quote = strings.TrimSpace(quote)
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("invalid pair %q", pair)
	}
	return base, quote, nil
}

var priceScale = new(big.Float).SetInt64(100_000_000)

func priceFloat(price *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(price), priceScale).Float64()
	return f
}

var _ Recorder = (*storage.Storage)(nil)
