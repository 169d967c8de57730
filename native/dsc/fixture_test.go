package dsc

import (
	"math/big"
	"testing"
	"time"

	"dscengine/core/events"
	"dscengine/crypto"
	"dscengine/native/oracle"
	"dscengine/native/token"
)

var (
	engineAddr = crypto.DeriveAddress(crypto.AccountPrefix, "dsc-engine")
	minter     = crypto.DeriveAddress(crypto.AccountPrefix, "collateral-minter")
	user       = crypto.DeriveAddress(crypto.AccountPrefix, "user")
	liquidator = crypto.DeriveAddress(crypto.AccountPrefix, "liquidator")
)

type fixture struct {
	t        *testing.T
	engine   *Engine
	store    Store
	weth     *token.Token
	wbtc     *token.Token
	dsc      *token.Token
	wethFeed *oracle.Feed
	wbtcFeed *oracle.Feed
	recorder *events.Recorder
	now      time.Time
}

type fixtureOption func(*fixture, *fixtureConfig)

type fixtureConfig struct {
	store      Store
	wethAsset  Asset
	engineOpts []Option
}

func withStore(store Store) fixtureOption {
	return func(_ *fixture, cfg *fixtureConfig) { cfg.store = store }
}

func withWethAsset(build func(token.Caller) Asset) fixtureOption {
	return func(f *fixture, cfg *fixtureConfig) { cfg.wethAsset = build(token.Bind(f.weth, engineAddr)) }
}

func withEngineOption(opt Option) fixtureOption {
	return func(_ *fixture, cfg *fixtureConfig) { cfg.engineOpts = append(cfg.engineOpts, opt) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		weth:     token.New("WETH", crypto.DeriveAddress(crypto.AssetPrefix, "weth"), 18, minter),
		wbtc:     token.New("WBTC", crypto.DeriveAddress(crypto.AssetPrefix, "wbtc"), 18, minter),
		dsc:      token.New("DSC", crypto.DeriveAddress(crypto.AssetPrefix, "dsc"), 18, engineAddr),
		recorder: &events.Recorder{},
		now:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.wethFeed = oracle.NewFeed("ETH/USD").WithClock(clock)
	f.wbtcFeed = oracle.NewFeed("BTC/USD").WithClock(clock)
	f.wethFeed.Update(price(t, "2000"))
	f.wbtcFeed.Update(price(t, "1000"))

	cfg := &fixtureConfig{store: NewMemStore()}
	for _, opt := range opts {
		opt(f, cfg)
	}
	wethAsset := cfg.wethAsset
	if wethAsset == nil {
		wethAsset = token.Bind(f.weth, engineAddr)
	}
	tokens := map[crypto.Address]Asset{
		f.weth.Address(): wethAsset,
		f.wbtc.Address(): token.Bind(f.wbtc, engineAddr),
	}
	engineOpts := append([]Option{WithClock(clock), WithEmitter(f.recorder)}, cfg.engineOpts...)
	engine, err := NewEngine(
		engineAddr,
		[]crypto.Address{f.weth.Address(), f.wbtc.Address()},
		[]PriceFeed{f.wethFeed, f.wbtcFeed},
		tokens,
		token.Bind(f.dsc, engineAddr),
		cfg.store,
		engineOpts...,
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.engine = engine
	f.store = cfg.store
	return f
}

// fund mints collateral to account and approves the engine to pull it.
func (f *fixture) fund(account crypto.Address, tok *token.Token, amount *big.Int) {
	f.t.Helper()
	if ok, err := tok.Mint(minter, account, amount); err != nil || !ok {
		f.t.Fatalf("mint %s: ok=%v err=%v", tok.Symbol(), ok, err)
	}
	if err := tok.Approve(account, engineAddr, tok.BalanceOf(account)); err != nil {
		f.t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) approveDebt(account crypto.Address, amount *big.Int) {
	f.t.Helper()
	if err := f.dsc.Approve(account, engineAddr, amount); err != nil {
		f.t.Fatalf("approve dsc: %v", err)
	}
}

func (f *fixture) setPrice(feed *oracle.Feed, value string) {
	f.t.Helper()
	feed.Update(price(f.t, value))
}

func (f *fixture) collateral(account crypto.Address, tok *token.Token) *big.Int {
	f.t.Helper()
	amount, err := f.engine.CollateralBalance(account, tok.Address())
	if err != nil {
		f.t.Fatalf("collateral balance: %v", err)
	}
	return amount
}

func (f *fixture) debt(account crypto.Address) *big.Int {
	f.t.Helper()
	debt, err := f.store.Debt(account)
	if err != nil {
		f.t.Fatalf("debt: %v", err)
	}
	return debt.ToBig()
}

func (f *fixture) healthFactor(account crypto.Address) *big.Int {
	f.t.Helper()
	hf, err := f.engine.HealthFactor(account)
	if err != nil {
		f.t.Fatalf("health factor: %v", err)
	}
	return hf
}

func price(t *testing.T, value string) *big.Int {
	t.Helper()
	p, err := oracle.ParsePrice(value)
	if err != nil {
		t.Fatalf("parse price %q: %v", value, err)
	}
	return p
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), precision)
}

func mustBig(t *testing.T, value string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("invalid big integer %q", value)
	}
	return v
}

func expectEqual(t *testing.T, what string, got, want *big.Int) {
	t.Helper()
	if got == nil || got.Cmp(want) != 0 {
		t.Fatalf("%s = %v, want %s", what, got, want)
	}
}
