package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"dscengine/core/events"
	"dscengine/crypto"
	"dscengine/native/dsc"
)

func TestDSCMetricsObserveOperation(t *testing.T) {
	m := DSC()
	before := testutil.ToFloat64(m.operations.WithLabelValues("mint", "stale_price"))
	m.ObserveOperation("mint", errors.Join(dsc.ErrStalePrice), time.Millisecond)
	after := testutil.ToFloat64(m.operations.WithLabelValues("mint", "stale_price"))
	if after != before+1 {
		t.Fatalf("expected counter to increment, got %v -> %v", before, after)
	}
}

func TestDSCMetricsLiquidationUsesSymbol(t *testing.T) {
	m := DSC()
	asset := crypto.DeriveAddress(crypto.AssetPrefix, "metrics-weth")
	m.SetAssetLabel(asset, "weth")
	before := testutil.ToFloat64(m.liquidations.WithLabelValues("WETH"))
	m.ObserveLiquidation(asset, &dsc.LiquidationResult{StartingHealthFactor: big.NewInt(900_000_000_000_000_000)})
	if got := testutil.ToFloat64(m.liquidations.WithLabelValues("WETH")); got != before+1 {
		t.Fatalf("liquidations = %v, want %v", got, before+1)
	}
}

func TestDSCMetricsCountsEvents(t *testing.T) {
	m := DSC()
	before := testutil.ToFloat64(m.events.WithLabelValues(events.TypeDscMinted))
	m.Emit(events.DscMinted{Amount: big.NewInt(1)})
	if got := testutil.ToFloat64(m.events.WithLabelValues(events.TypeDscMinted)); got != before+1 {
		t.Fatalf("events = %v, want %v", got, before+1)
	}
}

func TestRecordSystemTotals(t *testing.T) {
	m := DSC()
	m.RecordSystemTotals(new(big.Int).Mul(big.NewInt(1500), big.NewInt(1_000_000_000_000_000_000)), big.NewInt(500_000_000_000_000_000))
	if got := testutil.ToFloat64(m.collateralUSD); got != 1500 {
		t.Fatalf("collateral gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.debt); got != 0.5 {
		t.Fatalf("debt gauge = %v", got)
	}
}

func TestRatioToFloat(t *testing.T) {
	if got := ratioToFloat(nil); got != 0 {
		t.Fatalf("nil = %v", got)
	}
	if got := ratioToFloat(big.NewInt(250_000_000_000_000_000)); got != 0.25 {
		t.Fatalf("quarter = %v", got)
	}
}
