package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dscengine/core/events"
	"dscengine/crypto"
	"dscengine/native/dsc"
)

var (
	dscMetricsOnce sync.Once
	dscRegistry    *DSCMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// DSCMetrics wraps the collectors describing engine activity. It implements
// dsc.Observer and events.Emitter.
type DSCMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	liquidations  *prometheus.CounterVec
	healthFactor  prometheus.Histogram
	stale         *prometheus.CounterVec
	events        *prometheus.CounterVec
	collateralUSD prometheus.Gauge
	debt          prometheus.Gauge

	mu     sync.RWMutex
	labels map[crypto.Address]string
}

// DSC returns the singleton engine metrics registry.
func DSC() *DSCMetrics {
	dscMetricsOnce.Do(func() {
		dscRegistry = &DSCMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscengine",
				Subsystem: "dsc",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome code.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dscengine",
				Subsystem: "dsc",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscengine",
				Subsystem: "dsc",
				Name:      "liquidations_total",
				Help:      "Count of successful liquidations segmented by collateral asset.",
			}, []string{"asset"}),
			healthFactor: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "dscengine",
				Subsystem: "dsc",
				Name:      "health_factor",
				Help:      "Health factor of liquidated accounts before liquidation.",
				Buckets:   []float64{0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 1},
			}),
			stale: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscengine",
				Subsystem: "dsc",
				Name:      "oracle_stale_total",
				Help:      "Count of price reads rejected as stale segmented by asset.",
			}, []string{"asset"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscengine",
				Subsystem: "dsc",
				Name:      "events_total",
				Help:      "Count of committed engine events segmented by type.",
			}, []string{"type"}),
			collateralUSD: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dscengine",
				Subsystem: "dsc",
				Name:      "system_collateral_usd",
				Help:      "USD value of all deposited collateral.",
			}),
			debt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dscengine",
				Subsystem: "dsc",
				Name:      "system_debt",
				Help:      "Outstanding synthetic dollar debt.",
			}),
			labels: make(map[crypto.Address]string),
		}
		prometheus.MustRegister(
			dscRegistry.operations,
			dscRegistry.latency,
			dscRegistry.liquidations,
			dscRegistry.healthFactor,
			dscRegistry.stale,
			dscRegistry.events,
			dscRegistry.collateralUSD,
			dscRegistry.debt,
		)
	})
	return dscRegistry
}

// SetAssetLabel makes asset appear as symbol in metric labels.
func (m *DSCMetrics) SetAssetLabel(asset crypto.Address, symbol string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.labels[asset] = labelAsset(symbol)
	m.mu.Unlock()
}

func (m *DSCMetrics) assetLabel(asset crypto.Address) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if label, ok := m.labels[asset]; ok {
		return label
	}
	return asset.String()
}

// ObserveOperation implements dsc.Observer.
func (m *DSCMetrics) ObserveOperation(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op, dsc.Code(err)).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveLiquidation implements dsc.Observer.
func (m *DSCMetrics) ObserveLiquidation(asset crypto.Address, result *dsc.LiquidationResult) {
	if m == nil || result == nil {
		return
	}
	m.liquidations.WithLabelValues(m.assetLabel(asset)).Inc()
	m.healthFactor.Observe(ratioToFloat(result.StartingHealthFactor))
}

// ObserveStalePrice implements dsc.Observer.
func (m *DSCMetrics) ObserveStalePrice(asset crypto.Address, _ time.Duration) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(m.assetLabel(asset)).Inc()
}

// Emit implements events.Emitter.
func (m *DSCMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.events.WithLabelValues(evt.EventType()).Inc()
}

// RecordSystemTotals publishes system-wide collateral value and debt, both in
// 18 decimal fixed point.
func (m *DSCMetrics) RecordSystemTotals(collateralUSD, debt *big.Int) {
	if m == nil {
		return
	}
	m.collateralUSD.Set(ratioToFloat(collateralUSD))
	m.debt.Set(ratioToFloat(debt))
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// HTTP returns the registry tracking daemon HTTP traffic.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscengine",
				Subsystem: "dscd",
				Name:      "http_requests_total",
				Help:      "Count of HTTP requests segmented by route and status.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dscengine",
				Subsystem: "dscd",
				Name:      "http_request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency)
	})
	return httpRegistry
}

// Observe records one HTTP request.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, statusLabel(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// OracleMetrics tracks the price aggregation loop.
type OracleMetrics struct {
	updates   *prometheus.CounterVec
	freshness *prometheus.GaugeVec
	price     *prometheus.GaugeVec
}

// Oracle returns the registry for the daemon's oracle manager.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscengine",
				Subsystem: "dscd_oracle",
				Name:      "updates_total",
				Help:      "Count of aggregation rounds segmented by pair and outcome.",
			}, []string{"pair", "outcome"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "dscengine",
				Subsystem: "dscd_oracle",
				Name:      "freshness_seconds",
				Help:      "Age of the newest quote used in the last aggregation.",
			}, []string{"pair"}),
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "dscengine",
				Subsystem: "dscd_oracle",
				Name:      "price_usd",
				Help:      "Latest aggregated price.",
			}, []string{"pair"}),
		}
		prometheus.MustRegister(oracleRegistry.updates, oracleRegistry.freshness, oracleRegistry.price)
	})
	return oracleRegistry
}

// RecordUpdate records a successful aggregation round.
func (m *OracleMetrics) RecordUpdate(pair string, price float64, age time.Duration) {
	if m == nil {
		return
	}
	p := labelAsset(pair)
	m.updates.WithLabelValues(p, "ok").Inc()
	m.price.WithLabelValues(p).Set(price)
	m.freshness.WithLabelValues(p).Set(age.Seconds())
}

// RecordFailure records a round that could not produce a price.
func (m *OracleMetrics) RecordFailure(pair, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.updates.WithLabelValues(labelAsset(pair), reason).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

var wad = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

// ratioToFloat converts an 18 decimal fixed-point value to a float.
func ratioToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).Quo(new(big.Float).SetInt(value), wad).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
