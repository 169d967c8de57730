package dsc

import (
	"errors"
	"math/big"
	"testing"

	"dscengine/crypto"
	nativecommon "dscengine/native/common"
	"dscengine/native/token"
)

// hookedAsset runs a callback before delegating each transfer, standing in for
// a collateral token that calls back into the engine.
type hookedAsset struct {
	token.Caller
	beforeTransferFrom func()
	beforeTransfer     func()
}

func (h *hookedAsset) TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error) {
	if h.beforeTransferFrom != nil {
		h.beforeTransferFrom()
	}
	return h.Caller.TransferFrom(from, to, amount)
}

func (h *hookedAsset) Transfer(to crypto.Address, amount *big.Int) (bool, error) {
	if h.beforeTransfer != nil {
		h.beforeTransfer()
	}
	return h.Caller.Transfer(to, amount)
}

// refusingAsset accepts deposits but refuses to pay anything out.
type refusingAsset struct {
	token.Caller
}

func (refusingAsset) Transfer(crypto.Address, *big.Int) (bool, error) { return false, nil }

func TestTransferRefusalRollsBackDeposit(t *testing.T) {
	f := newFixture(t)
	if ok, _ := f.weth.Mint(minter, user, e18(5)); !ok {
		t.Fatalf("mint refused")
	}
	// No allowance, so the pull is refused.
	err := f.engine.DepositCollateral(user, f.weth.Address(), e18(5))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	expectEqual(t, "collateral", f.collateral(user, f.weth), big.NewInt(0))
	expectEqual(t, "wallet", f.weth.BalanceOf(user), e18(5))
	if len(f.recorder.Events()) != 0 {
		t.Fatalf("failed operation must not emit events")
	}
	accounts, err := f.store.Accounts()
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("failed operation must not create positions, got %v", accounts)
	}
}

func TestRedeemRefusalRollsBackLedger(t *testing.T) {
	f := newFixture(t, withWethAsset(func(c token.Caller) Asset { return refusingAsset{Caller: c} }))
	f.fund(user, f.weth, e18(3))
	if err := f.engine.DepositCollateral(user, f.weth.Address(), e18(3)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.RedeemCollateral(user, f.weth.Address(), e18(1)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	expectEqual(t, "collateral", f.collateral(user, f.weth), e18(3))
	expectEqual(t, "vault", f.weth.BalanceOf(engineAddr), e18(3))
}

func TestFailedMintUnwindsDeposit(t *testing.T) {
	f := newFixture(t)
	f.fund(user, f.weth, e18(10))
	// The engine no longer owns the debt token, so minting is refused.
	f.dsc.SetOwner(minter)

	err := f.engine.DepositCollateralAndMintDsc(user, f.weth.Address(), e18(10), e18(100))
	if !errors.Is(err, ErrMintFailed) {
		t.Fatalf("expected ErrMintFailed, got %v", err)
	}
	expectEqual(t, "collateral", f.collateral(user, f.weth), big.NewInt(0))
	expectEqual(t, "debt", f.debt(user), big.NewInt(0))
	expectEqual(t, "wallet", f.weth.BalanceOf(user), e18(10))
	expectEqual(t, "allowance", f.weth.Allowance(user, engineAddr), e18(10))
	expectEqual(t, "vault", f.weth.BalanceOf(engineAddr), big.NewInt(0))
}

func TestFailedLiquidationUnwindsEveryLeg(t *testing.T) {
	f := newFixture(t)
	f.fund(user, f.weth, e18(10))
	f.fund(liquidator, f.weth, e18(20))
	if err := f.engine.DepositCollateralAndMintDsc(user, f.weth.Address(), e18(10), e18(100)); err != nil {
		t.Fatalf("user deposit and mint: %v", err)
	}
	if err := f.engine.DepositCollateralAndMintDsc(liquidator, f.weth.Address(), e18(20), e18(100)); err != nil {
		t.Fatalf("liquidator deposit and mint: %v", err)
	}
	f.setPrice(f.wethFeed, "18")
	f.recorder.Reset()

	// Collateral moves before the debt token pull is refused for lack of allowance.
	_, err := f.engine.Liquidate(liquidator, f.weth.Address(), user, e18(100))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	expectEqual(t, "user collateral", f.collateral(user, f.weth), e18(10))
	expectEqual(t, "user debt", f.debt(user), e18(100))
	expectEqual(t, "liquidator wallet", f.weth.BalanceOf(liquidator), big.NewInt(0))
	expectEqual(t, "vault", f.weth.BalanceOf(engineAddr), e18(30))
	if len(f.recorder.Events()) != 0 {
		t.Fatalf("failed liquidation must not emit events")
	}
}

func TestReentrantDepositRejected(t *testing.T) {
	var (
		f          *fixture
		reentryErr error
		attempts   int
	)
	asset := &hookedAsset{}
	asset.beforeTransferFrom = func() {
		attempts++
		reentryErr = f.engine.DepositCollateral(user, f.weth.Address(), big.NewInt(1))
	}
	f = newFixture(t, withWethAsset(func(c token.Caller) Asset {
		asset.Caller = c
		return asset
	}))
	f.fund(user, f.weth, e18(2))

	if err := f.engine.DepositCollateral(user, f.weth.Address(), e18(1)); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected one reentry attempt, got %d", attempts)
	}
	if !errors.Is(reentryErr, nativecommon.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", reentryErr)
	}
	expectEqual(t, "collateral", f.collateral(user, f.weth), e18(1))

	// The guard is released once the outer call returns.
	asset.beforeTransferFrom = nil
	if err := f.engine.DepositCollateral(user, f.weth.Address(), e18(1)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	expectEqual(t, "collateral", f.collateral(user, f.weth), e18(2))
}

func TestReentrantLiquidationDuringRedeemRejected(t *testing.T) {
	var (
		f          *fixture
		reentryErr error
	)
	asset := &hookedAsset{}
	f = newFixture(t, withWethAsset(func(c token.Caller) Asset {
		asset.Caller = c
		return asset
	}))
	f.fund(user, f.weth, e18(10))
	if err := f.engine.DepositCollateralAndMintDsc(user, f.weth.Address(), e18(10), e18(100)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	asset.beforeTransfer = func() {
		_, reentryErr = f.engine.Liquidate(user, f.weth.Address(), user, e18(1))
	}
	if err := f.engine.RedeemCollateral(user, f.weth.Address(), e18(1)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !errors.Is(reentryErr, nativecommon.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", reentryErr)
	}
}

func TestGuardReleasedAfterFailure(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DepositCollateral(user, f.weth.Address(), e18(1)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	f.fund(user, f.weth, e18(1))
	if err := f.engine.DepositCollateral(user, f.weth.Address(), e18(1)); err != nil {
		t.Fatalf("deposit after failure: %v", err)
	}
}
