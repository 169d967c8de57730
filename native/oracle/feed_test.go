package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestParsePrice(t *testing.T) {
	cases := map[string]string{
		"2000":        "200000000000",
		"2000.5":      "200050000000",
		"18":          "1800000000",
		"0.000000019": "1",
		"1.123456789": "112345678",
	}
	for in, want := range cases {
		got, err := ParsePrice(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got.String() != want {
			t.Fatalf("parse %q = %s, want %s", in, got, want)
		}
	}
	for _, bad := range []string{"abc", "1/3", "1e3", "-5", "+5", ".5", "5.", "0x10"} {
		if _, err := ParsePrice(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestPriceFromRat(t *testing.T) {
	small, _ := new(big.Rat).SetString("3.2e-05")
	got, err := PriceFromRat(small)
	if err != nil {
		t.Fatalf("small price: %v", err)
	}
	if got.String() != "3200" {
		t.Fatalf("3.2e-05 = %s, want 3200", got)
	}
	if _, err := PriceFromRat(big.NewRat(-1, 2)); err == nil {
		t.Fatalf("expected negative price to be rejected")
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(big.NewInt(200050000000)); got != "2000.5" {
		t.Fatalf("format = %q", got)
	}
	if got := FormatPrice(big.NewInt(1800000000)); got != "18" {
		t.Fatalf("format = %q", got)
	}
}

func TestFeedLatestPrice(t *testing.T) {
	feed := NewFeed("eth/usd")
	if _, _, err := feed.LatestPrice(); !errors.Is(err, ErrNoAnswer) {
		t.Fatalf("expected ErrNoAnswer, got %v", err)
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feed.WithClock(func() time.Time { return at })
	feed.Update(big.NewInt(42))
	price, updated, err := feed.LatestPrice()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if price.Int64() != 42 || !updated.Equal(at) {
		t.Fatalf("unexpected answer %s at %s", price, updated)
	}
	price.SetInt64(7)
	again, _, _ := feed.LatestPrice()
	if again.Int64() != 42 {
		t.Fatalf("feed answer must not alias caller values")
	}
	if feed.Pair() != "ETH/USD" {
		t.Fatalf("pair = %q", feed.Pair())
	}
}
