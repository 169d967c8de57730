package crypto

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDeriveAddressDeterministic(t *testing.T) {
	a := DeriveAddress(AccountPrefix, "alice")
	b := DeriveAddress(AccountPrefix, "alice")
	if a != b {
		t.Fatalf("expected identical addresses, got %s and %s", a, b)
	}
	if a == DeriveAddress(AccountPrefix, "bob") {
		t.Fatalf("expected distinct labels to yield distinct addresses")
	}
	if !strings.HasPrefix(a.String(), "dsc1") {
		t.Fatalf("unexpected bech32 rendering: %s", a)
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	addr := DeriveAddress(AssetPrefix, "weth")

	decoded, err := ParseAddress(addr.String(), AccountPrefix)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if decoded != addr {
		t.Fatalf("bech32 round trip mismatch: %s vs %s", decoded, addr)
	}

	fromHex, err := ParseAddress(addr.Hex(), AssetPrefix)
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != addr {
		t.Fatalf("hex round trip mismatch: %s vs %s", fromHex, addr)
	}

	if _, err := ParseAddress("0x1234", AccountPrefix); err == nil {
		t.Fatalf("expected short hex address to be rejected")
	}
	if _, err := ParseAddress("  ", AccountPrefix); err == nil {
		t.Fatalf("expected empty address to be rejected")
	}
}

func TestAddressJSON(t *testing.T) {
	addr := DeriveAddress(AccountPrefix, "carol")
	encoded, err := json.Marshal(map[string]Address{"account": addr})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]Address
	if err := json.Unmarshal(encoded, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["account"] != addr {
		t.Fatalf("json round trip mismatch: %s vs %s", out["account"], addr)
	}
}

func TestNewAddressRejectsBadLength(t *testing.T) {
	if _, err := NewAddress(AccountPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected length error")
	}
	var zero Address
	if !zero.IsZero() {
		t.Fatalf("expected zero value to report IsZero")
	}
}

func TestParseAccountRejectsForeignPrefix(t *testing.T) {
	acct := DeriveAddress(AccountPrefix, "dave")
	got, err := ParseAccount(acct.String())
	if err != nil {
		t.Fatalf("parse account: %v", err)
	}
	if got != acct {
		t.Fatalf("parsed %s, want %s", got, acct)
	}
	if _, err := ParseAccount(acct.WithPrefix(AssetPrefix).String()); err == nil {
		t.Fatalf("expected asset-prefixed address to be rejected")
	}
	hex, err := ParseAccount(acct.Hex())
	if err != nil {
		t.Fatalf("parse hex account: %v", err)
	}
	if hex != acct {
		t.Fatalf("hex parse %s, want %s", hex, acct)
	}
}
