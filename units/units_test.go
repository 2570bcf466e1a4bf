package units

import (
	"errors"
	"math/big"
	"strings"
	"testing"
)

func TestFormatEtherOneToken(t *testing.T) {
	one, _ := new(big.Int).SetString("1000000000000000000", 10)
	if got := FormatEther(one); got != "1.0" {
		t.Fatalf("expected 1.0, got %s", got)
	}
	back, err := ParseEther("1.0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if back.Cmp(one) != 0 {
		t.Fatalf("round trip mismatch: %s", back)
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		raw      string
		decimals int
		want     string
	}{
		{"0", 18, "0.0"},
		{"50000000000000000", 18, "0.05"},
		{"1", 18, "0.000000000000000001"},
		{"1500000", 6, "1.5"},
		{"123", 0, "123.0"},
		{"-2500000000000000000", 18, "-2.5"},
	}
	for _, tc := range cases {
		value, _ := new(big.Int).SetString(tc.raw, 10)
		if got := FormatUnits(value, tc.decimals); got != tc.want {
			t.Fatalf("FormatUnits(%s, %d) = %s, want %s", tc.raw, tc.decimals, got, tc.want)
		}
	}
	if got := FormatUnits(nil, 18); got != "0.0" {
		t.Fatalf("nil should format as zero, got %s", got)
	}
}

func TestParseUnitsRejects(t *testing.T) {
	cases := map[string]error{
		"":                      ErrInvalidAmount,
		".":                     ErrInvalidAmount,
		"-1":                    ErrInvalidAmount,
		"1e18":                  ErrInvalidAmount,
		"1.2.3":                 ErrInvalidAmount,
		"0.0000000000000000001": ErrTooManyDecimals,
		"abc":                   ErrInvalidAmount,
	}
	for input, want := range cases {
		if _, err := ParseEther(input); !errors.Is(err, want) {
			t.Fatalf("ParseEther(%q) error = %v, want %v", input, err, want)
		}
	}
	huge := "1" + strings.Repeat("0", 62)
	if _, err := ParseEther(huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestParseUnitsAcceptsShortForms(t *testing.T) {
	half, err := ParseEther(".5")
	if err != nil {
		t.Fatalf("parse .5: %v", err)
	}
	if half.String() != "500000000000000000" {
		t.Fatalf("unexpected .5 value %s", half)
	}
	trailing, err := ParseEther("2.500000000000000000000")
	if err != nil {
		t.Fatalf("trailing zeros beyond precision should be accepted: %v", err)
	}
	if FormatEther(trailing) != "2.5" {
		t.Fatalf("unexpected value %s", FormatEther(trailing))
	}
}

func TestRoundTripLargeAmounts(t *testing.T) {
	base, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	for _, offset := range []int64{0, 1, 7, 999999999999} {
		value := new(big.Int).Add(base, big.NewInt(offset))
		formatted := FormatEther(value)
		parsed, err := ParseEther(formatted)
		if err != nil {
			t.Fatalf("parse %s: %v", formatted, err)
		}
		if parsed.Cmp(value) != 0 {
			t.Fatalf("round trip lost precision: %s -> %s -> %s", value, formatted, parsed)
		}
	}
}

func TestIsPositive(t *testing.T) {
	for _, positive := range []string{"0.05", "1", "1.0", ".1", "000.0001"} {
		if !IsPositive(positive) {
			t.Fatalf("%q should be positive", positive)
		}
	}
	for _, notPositive := range []string{"0", "0.0", "", "abc", "-1", "."} {
		if IsPositive(notPositive) {
			t.Fatalf("%q should not be positive", notPositive)
		}
	}
}
