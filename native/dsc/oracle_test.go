package dsc

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"dscengine/crypto"
)

type staticFeed struct {
	answer    *big.Int
	updatedAt time.Time
	err       error
}

func (f *staticFeed) LatestPrice() (*big.Int, time.Time, error) {
	return f.answer, f.updatedAt, f.err
}

type recordingObserver struct {
	operations   map[string][]error
	liquidations int
	stale        []crypto.Address
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{operations: make(map[string][]error)}
}

func (o *recordingObserver) ObserveOperation(operation string, err error, _ time.Duration) {
	o.operations[operation] = append(o.operations[operation], err)
}

func (o *recordingObserver) ObserveLiquidation(crypto.Address, *LiquidationResult) {
	o.liquidations++
}

func (o *recordingObserver) ObserveStalePrice(asset crypto.Address, _ time.Duration) {
	o.stale = append(o.stale, asset)
}

func TestUSDValueAndTokenAmount(t *testing.T) {
	f := newFixture(t)
	usd, err := f.engine.USDValue(f.weth.Address(), e18(15))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	expectEqual(t, "usd value", usd, e18(30_000))

	amount, err := f.engine.TokenAmountForUSD(f.weth.Address(), e18(100))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	expectEqual(t, "token amount", amount, mustBig(t, "50000000000000000"))

	zero, err := f.engine.USDValue(f.weth.Address(), big.NewInt(0))
	if err != nil {
		t.Fatalf("zero usd value: %v", err)
	}
	expectEqual(t, "zero usd value", zero, big.NewInt(0))
}

func TestTokenAmountRoundTripLosesAtMostOneUnit(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(7))
	for _, p := range []string{"2000", "18", "1234.56789012", "1.00000001", "96321.5"} {
		f.setPrice(f.wethFeed, p)
		for i := 0; i < 200; i++ {
			amount := new(big.Int).Rand(rng, e18(1_000_000))
			usd, err := f.engine.USDValue(f.weth.Address(), amount)
			if err != nil {
				t.Fatalf("usd value: %v", err)
			}
			back, err := f.engine.TokenAmountForUSD(f.weth.Address(), usd)
			if err != nil {
				t.Fatalf("token amount: %v", err)
			}
			loss := new(big.Int).Sub(amount, back)
			if loss.Sign() < 0 || loss.Cmp(big.NewInt(1)) > 0 {
				t.Fatalf("price %s amount %s round tripped to %s", p, amount, back)
			}
		}
	}
}

func TestStalePriceFreezesPriceDependentOperations(t *testing.T) {
	observer := newRecordingObserver()
	f := newFixture(t, withEngineOption(WithObserver(observer)))
	f.fund(user, f.weth, e18(11))
	f.fund(liquidator, f.weth, e18(20))
	if err := f.engine.DepositCollateralAndMintDsc(user, f.weth.Address(), e18(10), e18(100)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	if err := f.engine.DepositCollateralAndMintDsc(liquidator, f.weth.Address(), e18(20), e18(100)); err != nil {
		t.Fatalf("liquidator deposit and mint: %v", err)
	}
	f.approveDebt(liquidator, e18(100))

	f.now = f.now.Add(StalenessTimeout)
	if _, err := f.engine.HealthFactor(user); err != nil {
		t.Fatalf("price exactly at the timeout is still fresh: %v", err)
	}

	f.now = f.now.Add(time.Second)
	if err := f.engine.DepositCollateralAndMintDsc(user, f.weth.Address(), e18(1), e18(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("deposit and mint: expected ErrStalePrice, got %v", err)
	}
	expectEqual(t, "wallet after stale deposit", f.weth.BalanceOf(user), e18(1))
	expectEqual(t, "collateral after stale deposit", f.collateral(user, f.weth), e18(10))

	if err := f.engine.RedeemCollateral(user, f.weth.Address(), e18(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("redeem: expected ErrStalePrice, got %v", err)
	}
	if _, err := f.engine.Liquidate(liquidator, f.weth.Address(), user, e18(100)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("liquidate: expected ErrStalePrice, got %v", err)
	}
	if _, err := f.engine.USDValue(f.weth.Address(), e18(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("usd value: expected ErrStalePrice, got %v", err)
	}
	if len(observer.stale) == 0 {
		t.Fatalf("observer should have seen the stale price")
	}
	if errs := observer.operations["liquidate"]; len(errs) != 1 || !errors.Is(errs[0], ErrStalePrice) {
		t.Fatalf("unexpected observed liquidate outcomes %v", errs)
	}

	// Depositing alone never reads a price.
	if err := f.engine.DepositCollateral(user, f.weth.Address(), e18(1)); err != nil {
		t.Fatalf("plain deposit: %v", err)
	}

	f.setPrice(f.wethFeed, "2000")
	f.setPrice(f.wbtcFeed, "1000")
	if err := f.engine.RedeemCollateral(user, f.weth.Address(), e18(1)); err != nil {
		t.Fatalf("redeem after refresh: %v", err)
	}
}

func TestFutureTimestampTreatedAsStale(t *testing.T) {
	f := newFixture(t)
	f.wethFeed.Set(price(t, "2000"), f.now.Add(time.Minute))
	if _, err := f.engine.USDValue(f.weth.Address(), e18(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestInvalidPriceRejected(t *testing.T) {
	f := newFixture(t)
	f.wethFeed.Update(big.NewInt(0))
	if _, err := f.engine.USDValue(f.weth.Address(), e18(1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	f.wethFeed.Update(big.NewInt(-1))
	if _, err := f.engine.TokenAmountForUSD(f.weth.Address(), e18(1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestFeedErrorIsWrapped(t *testing.T) {
	asset := crypto.DeriveAddress(crypto.AssetPrefix, "broken")
	sentinel := errors.New("feed offline")
	registry, err := NewRegistry([]crypto.Address{asset}, []PriceFeed{&staticFeed{err: sentinel}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	adapter := newPriceOracleAdapter(registry)
	if _, err := adapter.USDValue(asset, e18(1)); !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped feed error, got %v", err)
	}
}

func TestStalenessTimeoutOption(t *testing.T) {
	f := newFixture(t, withEngineOption(WithStalenessTimeout(time.Minute)))
	f.now = f.now.Add(2 * time.Minute)
	if _, err := f.engine.USDValue(f.weth.Address(), e18(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice under the shorter timeout, got %v", err)
	}
}

func TestCalculateHealthFactor(t *testing.T) {
	expectEqual(t, "zero debt", CalculateHealthFactor(big.NewInt(0), e18(10)), MaxHealthFactor())
	expectEqual(t, "zero collateral", CalculateHealthFactor(e18(10), big.NewInt(0)), big.NewInt(0))
	expectEqual(t, "scenario", CalculateHealthFactor(e18(100), e18(20_000)), e18(100))
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	expectEqual(t, "capped", CalculateHealthFactor(big.NewInt(1), huge), MaxHealthFactor())
}
