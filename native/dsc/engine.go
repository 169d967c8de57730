package dsc

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"dscengine/core/events"
	"dscengine/crypto"
	nativecommon "dscengine/native/common"
)

// Observer receives operational signals from the engine.
type Observer interface {
	ObserveOperation(operation string, err error, elapsed time.Duration)
	ObserveLiquidation(asset crypto.Address, result *LiquidationResult)
	ObserveStalePrice(asset crypto.Address, age time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPauses lets operators halt mutating operations.
func WithPauses(p nativecommon.PauseView) Option {
	return func(e *Engine) { e.pauses = p }
}

// WithEmitter forwards committed events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.oracle.now = now
		}
	}
}

// WithStalenessTimeout overrides the three hour staleness bound.
func WithStalenessTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.oracle.timeout = d
		}
	}
}

// Engine is the over-collateralized synthetic dollar engine. Every mutating
// operation runs as one all-or-nothing unit: ledger writes are staged and
// only applied when every step, including the external token calls and the
// final solvency check, succeeds.
//
// The engine does not queue callers. A mutating call made while another one
// is in flight fails with nativecommon.ErrReentrantCall, so hosts that accept
// concurrent requests must sequence them.
type Engine struct {
	address     crypto.Address
	registry    *Registry
	store       Store
	tokens      map[crypto.Address]Asset
	debtToken   DebtToken
	journaled   []Journaled
	oracle      *PriceOracleAdapter
	vault       *CollateralVault
	debt        *DebtLedger
	health      *HealthFactorEngine
	liquidation *LiquidationEngine
	guard       nativecommon.ReentrancyGuard
	pauses      nativecommon.PauseView
	emitter     events.Emitter
	observer    Observer
	logger      *slog.Logger
}

// NewEngine builds the engine. assets and feeds are parallel lists; tokens
// must provide the transfer capability for every asset.
func NewEngine(engineAddr crypto.Address, assets []crypto.Address, feeds []PriceFeed, tokens map[crypto.Address]Asset, debt DebtToken, store Store, opts ...Option) (*Engine, error) {
	registry, err := NewRegistry(assets, feeds)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrNilState
	}
	if debt == nil {
		return nil, errors.New("dsc engine: debt token not configured")
	}
	e := &Engine{
		address:   engineAddr,
		registry:  registry,
		store:     store,
		tokens:    make(map[crypto.Address]Asset, len(assets)),
		debtToken: debt,
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
	}
	for _, asset := range registry.assets {
		token, ok := tokens[asset]
		if !ok || token == nil {
			return nil, fmt.Errorf("dsc engine: no token for collateral asset %s", asset)
		}
		e.tokens[asset] = token
		if j, ok := token.(Journaled); ok {
			e.journaled = append(e.journaled, j)
		}
	}
	if j, ok := debt.(Journaled); ok {
		e.journaled = append(e.journaled, j)
	}

	e.oracle = newPriceOracleAdapter(registry)
	e.oracle.onStale = e.staleHook
	e.vault = &CollateralVault{engine: engineAddr, registry: registry, tokens: e.tokens}
	e.debt = &DebtLedger{engine: engineAddr, token: debt}
	e.health = &HealthFactorEngine{registry: registry, oracle: e.oracle}
	e.liquidation = &LiquidationEngine{
		registry: registry,
		oracle:   e.oracle,
		vault:    e.vault,
		debt:     e.debt,
		health:   e.health,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

func (e *Engine) staleHook(asset crypto.Address, age time.Duration) {
	e.logger.Warn("dsc: stale price", "asset", asset.String(), "age", age.String())
	if e.observer != nil {
		e.observer.ObserveStalePrice(asset, age)
	}
}

// txn is the scratch state of one operation.
type txn struct {
	ledger *stagedLedger
	events []events.Event
}

func (tx *txn) emit(evt events.Event) {
	tx.events = append(tx.events, evt)
}

// execute runs fn as a single atomic operation.
func (e *Engine) execute(operation string, fn func(tx *txn) error) (err error) {
	if e == nil || e.store == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveOperation(operation, err, time.Since(start))
		}
	}()

	snapshots := make([]int, len(e.journaled))
	for i, j := range e.journaled {
		snapshots[i] = j.Snapshot()
	}
	revert := func() {
		for i := len(e.journaled) - 1; i >= 0; i-- {
			e.journaled[i].RevertToSnapshot(snapshots[i])
		}
	}

	tx := &txn{ledger: newStagedLedger(e.store)}
	if err := fn(tx); err != nil {
		revert()
		e.logger.Debug("dsc: operation reverted", "operation", operation, "error", err)
		return err
	}
	if err := e.store.Apply(tx.ledger.changes); err != nil {
		revert()
		e.logger.Error("dsc: commit failed", "operation", operation, "error", err)
		return fmt.Errorf("dsc engine: commit %s: %w", operation, err)
	}
	for i := len(e.journaled) - 1; i >= 0; i-- {
		e.journaled[i].Commit(snapshots[i])
	}
	for _, evt := range tx.events {
		e.emitter.Emit(evt)
	}
	return nil
}

// DepositCollateral moves amount of asset from account into the vault.
func (e *Engine) DepositCollateral(account, asset crypto.Address, amount *big.Int) error {
	account = canonicalAccount(account)
	return e.execute("deposit", func(tx *txn) error {
		return e.vault.deposit(tx, account, asset, amount)
	})
}

// DepositCollateralAndMintDsc deposits collateral and mints debt against it in
// one step.
func (e *Engine) DepositCollateralAndMintDsc(account, asset crypto.Address, amount, mintAmount *big.Int) error {
	account = canonicalAccount(account)
	return e.execute("deposit_mint", func(tx *txn) error {
		if err := e.vault.deposit(tx, account, asset, amount); err != nil {
			return err
		}
		return e.mint(tx, account, mintAmount)
	})
}

// RedeemCollateral withdraws collateral back to account as long as the
// account stays solvent.
func (e *Engine) RedeemCollateral(account, asset crypto.Address, amount *big.Int) error {
	account = canonicalAccount(account)
	return e.execute("redeem", func(tx *txn) error {
		if err := e.vault.redeem(tx, account, account, asset, amount); err != nil {
			return err
		}
		return e.health.enforce(tx.ledger, account)
	})
}

// RedeemCollateralForDsc burns burnAmount of account's debt and then redeems
// collateral.
func (e *Engine) RedeemCollateralForDsc(account, asset crypto.Address, amount, burnAmount *big.Int) error {
	account = canonicalAccount(account)
	return e.execute("redeem_burn", func(tx *txn) error {
		if err := e.debt.burn(tx, burnAmount, account, account); err != nil {
			return err
		}
		if err := e.vault.redeem(tx, account, account, asset, amount); err != nil {
			return err
		}
		return e.health.enforce(tx.ledger, account)
	})
}

// MintDsc mints amount of debt to account.
func (e *Engine) MintDsc(account crypto.Address, amount *big.Int) error {
	account = canonicalAccount(account)
	return e.execute("mint", func(tx *txn) error {
		return e.mint(tx, account, amount)
	})
}

func (e *Engine) mint(tx *txn, account crypto.Address, amount *big.Int) error {
	value, err := e.debt.increase(tx, account, amount)
	if err != nil {
		return err
	}
	if err := e.health.enforce(tx.ledger, account); err != nil {
		return err
	}
	return e.debt.issue(tx, account, value)
}

// BurnDsc repays amount of account's own debt.
func (e *Engine) BurnDsc(account crypto.Address, amount *big.Int) error {
	account = canonicalAccount(account)
	return e.execute("burn", func(tx *txn) error {
		if err := e.debt.burn(tx, amount, account, account); err != nil {
			return err
		}
		return e.health.enforce(tx.ledger, account)
	})
}

// Liquidate lets liquidator cover debtToCover of target's debt in exchange for
// target's collateral in asset plus the liquidation bonus.
func (e *Engine) Liquidate(liquidator, asset, target crypto.Address, debtToCover *big.Int) (*LiquidationResult, error) {
	liquidator, target = canonicalAccount(liquidator), canonicalAccount(target)
	var result *LiquidationResult
	err := e.execute("liquidate", func(tx *txn) error {
		var err error
		result, err = e.liquidation.liquidate(tx, liquidator, asset, target, debtToCover)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("dsc: liquidation",
		"liquidator", liquidator.String(),
		"target", target.String(),
		"asset", asset.String(),
		"debt_covered", result.DebtCovered.String(),
		"collateral_seized", result.CollateralSeized.String())
	if e.observer != nil {
		e.observer.ObserveLiquidation(asset, result)
	}
	return result, nil
}
