package token

import (
	"bytes"
	"math/big"
	"testing"

	"dscengine/crypto"
	"dscengine/storage"
)

var (
	owner = crypto.DeriveAddress(crypto.AccountPrefix, "owner")
	alice = crypto.DeriveAddress(crypto.AccountPrefix, "alice")
	bob   = crypto.DeriveAddress(crypto.AccountPrefix, "bob")
)

func newTestToken(t *testing.T) *Token {
	t.Helper()
	tok := New("weth", crypto.DeriveAddress(crypto.AssetPrefix, "weth"), 18, owner)
	ok, err := tok.Mint(owner, alice, big.NewInt(1000))
	if err != nil || !ok {
		t.Fatalf("mint: ok=%v err=%v", ok, err)
	}
	return tok
}

func TestMintRequiresOwner(t *testing.T) {
	tok := newTestToken(t)
	ok, err := tok.Mint(alice, alice, big.NewInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected non-owner mint to be refused")
	}
	if tok.TotalSupply().Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected supply %s", tok.TotalSupply())
	}
	if tok.Symbol() != "WETH" {
		t.Fatalf("unexpected symbol %q", tok.Symbol())
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	tok := newTestToken(t)
	ok, err := tok.TransferFrom(bob, alice, bob, big.NewInt(10))
	if err != nil || ok {
		t.Fatalf("expected refusal without allowance: ok=%v err=%v", ok, err)
	}
	if err := tok.Approve(alice, bob, big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	ok, err = tok.TransferFrom(bob, alice, bob, big.NewInt(60))
	if err != nil || !ok {
		t.Fatalf("transferFrom: ok=%v err=%v", ok, err)
	}
	if got := tok.Allowance(alice, bob); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("allowance = %s, want 40", got)
	}
	if got := tok.BalanceOf(bob); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("bob balance = %s, want 60", got)
	}
	ok, _ = tok.TransferFrom(bob, alice, bob, big.NewInt(41))
	if ok {
		t.Fatalf("expected allowance exhaustion to refuse")
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	tok := newTestToken(t)
	ok, err := tok.Transfer(bob, alice, big.NewInt(1))
	if err != nil || ok {
		t.Fatalf("expected refusal: ok=%v err=%v", ok, err)
	}
	if _, err := tok.Transfer(alice, bob, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative amount error")
	}
}

func TestBurnReducesSupply(t *testing.T) {
	tok := newTestToken(t)
	if err := tok.Burn(alice, big.NewInt(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if tok.TotalSupply().Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("supply = %s, want 600", tok.TotalSupply())
	}
	if err := tok.Burn(alice, big.NewInt(601)); err == nil {
		t.Fatalf("expected burn beyond balance to fail")
	}
}

func TestRevertToSnapshotUndoesMutations(t *testing.T) {
	tok := newTestToken(t)
	if err := tok.Approve(alice, bob, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	id := tok.Snapshot()
	if ok, _ := tok.TransferFrom(bob, alice, bob, big.NewInt(50)); !ok {
		t.Fatalf("transferFrom refused")
	}
	if ok, _ := tok.Mint(owner, bob, big.NewInt(5)); !ok {
		t.Fatalf("mint refused")
	}
	if err := tok.Burn(bob, big.NewInt(20)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	tok.RevertToSnapshot(id)

	if got := tok.BalanceOf(alice); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("alice balance = %s, want 1000", got)
	}
	if got := tok.BalanceOf(bob); got.Sign() != 0 {
		t.Fatalf("bob balance = %s, want 0", got)
	}
	if got := tok.Allowance(alice, bob); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("allowance = %s, want 50", got)
	}
	if got := tok.TotalSupply(); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("supply = %s, want 1000", got)
	}
}

func TestCommitKeepsMutations(t *testing.T) {
	tok := newTestToken(t)
	id := tok.Snapshot()
	if ok, _ := tok.Transfer(alice, bob, big.NewInt(7)); !ok {
		t.Fatalf("transfer refused")
	}
	tok.Commit(id)
	if got := tok.BalanceOf(bob); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("bob balance = %s, want 7", got)
	}
	if len(tok.journal) != 0 {
		t.Fatalf("journal should be cleared once the outer scope closes")
	}
}

func TestCallerActsAsBoundIdentity(t *testing.T) {
	tok := newTestToken(t)
	engine := crypto.DeriveAddress(crypto.AccountPrefix, "engine")
	if err := tok.Approve(alice, engine, big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	bound := Bind(tok, engine)
	if ok, err := bound.TransferFrom(alice, engine, big.NewInt(100)); err != nil || !ok {
		t.Fatalf("transferFrom: ok=%v err=%v", ok, err)
	}
	if ok, err := bound.Transfer(bob, big.NewInt(30)); err != nil || !ok {
		t.Fatalf("transfer: ok=%v err=%v", ok, err)
	}
	if err := bound.Burn(big.NewInt(70)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if tok.BalanceOf(engine).Sign() != 0 {
		t.Fatalf("engine should hold nothing")
	}
	if ok, _ := bound.Mint(bob, big.NewInt(1)); ok {
		t.Fatalf("engine is not the owner and must not mint")
	}
	tok.SetOwner(engine)
	if ok, _ := bound.Mint(bob, big.NewInt(1)); !ok {
		t.Fatalf("engine should mint once it owns the token")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	tok := New("WETH", crypto.DeriveAddress(crypto.AssetPrefix, "weth"), 18, owner)
	if ok, err := tok.Mint(owner, alice, big.NewInt(500)); err != nil || !ok {
		t.Fatalf("mint: ok=%v err=%v", ok, err)
	}
	if err := tok.Approve(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := tok.Save(db); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New("WETH", tok.Address(), 18, owner)
	found, err := restored.Load(db)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got := restored.BalanceOf(alice); got.Int64() != 500 {
		t.Fatalf("balance: got %s", got)
	}
	if got := restored.Allowance(alice, bob); got.Int64() != 40 {
		t.Fatalf("allowance: got %s", got)
	}
	if got := restored.TotalSupply(); got.Int64() != 500 {
		t.Fatalf("supply: got %s", got)
	}

	fresh := New("WBTC", crypto.DeriveAddress(crypto.AssetPrefix, "wbtc"), 8, owner)
	if found, err := fresh.Load(db); err != nil || found {
		t.Fatalf("load missing: found=%v err=%v", found, err)
	}
}

func TestSaveRefusesOpenSnapshot(t *testing.T) {
	tok := New("WETH", crypto.DeriveAddress(crypto.AssetPrefix, "weth"), 18, owner)
	id := tok.Snapshot()
	if err := tok.Save(storage.NewMemDB()); err == nil {
		t.Fatalf("expected save to fail inside a snapshot")
	}
	tok.Commit(id)
}

func TestHoldersKeyedByAddressBytes(t *testing.T) {
	tok := newTestToken(t)
	alias := alice.WithPrefix(crypto.AssetPrefix)
	if got := tok.BalanceOf(alias); got.Int64() != 1000 {
		t.Fatalf("alias balance = %s, want 1000", got)
	}
	if ok, err := tok.Transfer(alias, bob, big.NewInt(100)); err != nil || !ok {
		t.Fatalf("transfer: ok=%v err=%v", ok, err)
	}
	if got := tok.BalanceOf(alice); got.Int64() != 900 {
		t.Fatalf("balance = %s, want 900", got)
	}
	if err := tok.Approve(alias, bob, big.NewInt(7)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := tok.Allowance(alice, bob.WithPrefix(crypto.AssetPrefix)); got.Int64() != 7 {
		t.Fatalf("allowance = %s, want 7", got)
	}
	if ok, _ := tok.Mint(owner.WithPrefix(crypto.AssetPrefix), bob, big.NewInt(1)); !ok {
		t.Fatalf("owner should mint under any spelling")
	}
}

func TestSaveEncodingIsDeterministic(t *testing.T) {
	build := func() *Token {
		tok := New("WETH", crypto.DeriveAddress(crypto.AssetPrefix, "weth"), 18, owner)
		for i, acct := range []crypto.Address{alice, bob, owner} {
			if ok, err := tok.Mint(owner, acct, big.NewInt(int64(10*(i+1)))); err != nil || !ok {
				t.Fatalf("mint: ok=%v err=%v", ok, err)
			}
			if err := tok.Approve(acct, alice.WithPrefix(crypto.AssetPrefix), big.NewInt(int64(i+1))); err != nil {
				t.Fatalf("approve: %v", err)
			}
		}
		return tok
	}
	var first []byte
	for i := 0; i < 20; i++ {
		db := storage.NewMemDB()
		tok := build()
		if err := tok.Save(db); err != nil {
			t.Fatalf("save: %v", err)
		}
		enc, err := db.Get(stateKey(tok.Address()))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if first == nil {
			first = enc
			continue
		}
		if !bytes.Equal(first, enc) {
			t.Fatalf("encoding differs between runs")
		}
	}
}
