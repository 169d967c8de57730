package dsc

import (
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	"dscengine/crypto"
	"dscengine/storage"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	alice := crypto.DeriveAddress(crypto.AccountPrefix, "alice")
	bob := crypto.DeriveAddress(crypto.AccountPrefix, "bob")
	weth := crypto.DeriveAddress(crypto.AssetPrefix, "weth")

	staged := newStagedLedger(store)
	staged.setCollateral(alice, weth, uint256.NewInt(5))
	staged.setCollateral(alice, weth, uint256.NewInt(7))
	staged.setDebt(bob, uint256.NewInt(3))

	if got, _ := staged.Collateral(alice, weth); got.Uint64() != 7 {
		t.Fatalf("staged collateral = %d, want 7", got.Uint64())
	}
	if got, _ := store.Collateral(alice, weth); !got.IsZero() {
		t.Fatalf("store must not observe staged writes")
	}
	if len(staged.changes.CollateralWrites()) != 1 || len(staged.changes.DebtWrites()) != 1 {
		t.Fatalf("repeated writes to one position should collapse")
	}

	if err := store.Apply(staged.changes); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got, _ := store.Collateral(alice, weth); got.Uint64() != 7 {
		t.Fatalf("collateral = %d, want 7", got.Uint64())
	}
	if got, _ := store.Debt(bob); got.Uint64() != 3 {
		t.Fatalf("debt = %d, want 3", got.Uint64())
	}
	if got, _ := store.Debt(alice); !got.IsZero() {
		t.Fatalf("missing debt should read as zero")
	}

	zero := newStagedLedger(store)
	zero.setDebt(bob, new(uint256.Int))
	if err := store.Apply(zero.changes); err != nil {
		t.Fatalf("apply zero: %v", err)
	}
	accounts, err := store.Accounts()
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected both accounts to persist, got %v", accounts)
	}
	for _, acct := range accounts {
		if acct != alice && acct != bob {
			t.Fatalf("unexpected account %s", acct)
		}
	}
}

func TestMemStore(t *testing.T) {
	exerciseStore(t, NewMemStore())
}

func TestKVStoreMemDB(t *testing.T) {
	exerciseStore(t, NewKVStore(storage.NewMemDB()))
}

func TestKVStoreLevelDB(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseStore(t, NewKVStore(db))
}

func TestEngineStateSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()
	f := newFixture(t, withStore(NewKVStore(db)))
	f.fund(user, f.weth, e18(10))
	if err := f.engine.DepositCollateralAndMintDsc(user, f.weth.Address(), e18(10), e18(100)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}

	reopened := NewKVStore(db)
	collateral, err := reopened.Collateral(user, f.weth.Address())
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	expectEqual(t, "persisted collateral", collateral.ToBig(), e18(10))
	debt, err := reopened.Debt(user)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	expectEqual(t, "persisted debt", debt.ToBig(), e18(100))
	accounts, err := reopened.Accounts()
	if err != nil || len(accounts) != 1 || accounts[0] != user {
		t.Fatalf("unexpected accounts %v err=%v", accounts, err)
	}
}

func TestStoresKeyAccountsByBytes(t *testing.T) {
	stores := map[string]func() Store{
		"mem": func() Store { return NewMemStore() },
		"kv":  func() Store { return NewKVStore(storage.NewMemDB()) },
	}
	for name, build := range stores {
		t.Run(name, func(t *testing.T) {
			store := build()
			alice := crypto.DeriveAddress(crypto.AccountPrefix, "alice")
			alias := alice.WithPrefix(crypto.AssetPrefix)
			weth := crypto.DeriveAddress(crypto.AssetPrefix, "weth")

			staged := newStagedLedger(store)
			staged.setDebt(alice, uint256.NewInt(4))
			staged.setDebt(alias, uint256.NewInt(9))
			staged.setCollateral(alias, weth, uint256.NewInt(2))
			if got, _ := staged.Debt(alice); got.Uint64() != 9 {
				t.Fatalf("staged debt = %d, want 9", got.Uint64())
			}
			if len(staged.changes.DebtWrites()) != 1 {
				t.Fatalf("both spellings must collapse onto one write, got %d", len(staged.changes.DebtWrites()))
			}
			if err := store.Apply(staged.changes); err != nil {
				t.Fatalf("apply: %v", err)
			}
			for _, acct := range []crypto.Address{alice, alias} {
				if got, _ := store.Debt(acct); got.Uint64() != 9 {
					t.Fatalf("debt(%s) = %d, want 9", acct, got.Uint64())
				}
				if got, _ := store.Collateral(acct, weth); got.Uint64() != 2 {
					t.Fatalf("collateral(%s) = %d, want 2", acct, got.Uint64())
				}
			}
			accounts, err := store.Accounts()
			if err != nil {
				t.Fatalf("accounts: %v", err)
			}
			if len(accounts) != 1 || accounts[0] != alice {
				t.Fatalf("accounts = %v, want [%s]", accounts, alice)
			}
		})
	}
}

func TestEngineViewIsIndependentOfStore(t *testing.T) {
	type view struct {
		debt, collateralUSD string
		accounts            []crypto.Address
	}
	run := func(store Store) view {
		f := newFixture(t, withStore(store))
		f.fund(user, f.weth, e18(10))
		if err := f.engine.DepositCollateralAndMintDsc(user, f.weth.Address(), e18(10), e18(100)); err != nil {
			t.Fatalf("deposit and mint: %v", err)
		}
		alias := user.WithPrefix(crypto.AssetPrefix)
		debt, usd, err := f.engine.AccountInfo(alias)
		if err != nil {
			t.Fatalf("account info: %v", err)
		}
		pos, err := f.engine.Positions(alias)
		if err != nil {
			t.Fatalf("positions: %v", err)
		}
		if pos.Account != user {
			t.Fatalf("position account = %s, want %s", pos.Account, user)
		}
		accounts, err := store.Accounts()
		if err != nil {
			t.Fatalf("accounts: %v", err)
		}
		return view{debt: debt.String(), collateralUSD: usd.String(), accounts: accounts}
	}
	mem := run(NewMemStore())
	kv := run(NewKVStore(storage.NewMemDB()))
	if mem.debt != kv.debt || mem.collateralUSD != kv.collateralUSD {
		t.Fatalf("mem %+v differs from kv %+v", mem, kv)
	}
	if mem.debt != e18(100).String() {
		t.Fatalf("alias debt = %s, want the account's 100e18", mem.debt)
	}
	if len(mem.accounts) != 1 || len(kv.accounts) != 1 || mem.accounts[0] != kv.accounts[0] {
		t.Fatalf("accounts differ: mem %v kv %v", mem.accounts, kv.accounts)
	}
}
