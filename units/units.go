// Package units converts between native fixed-point integer amounts and their
// human readable decimal string form. All conversions are exact; no floating
// point is involved at any stage.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// EtherDecimals is the precision of the native currency and of every amount
// exchanged with the on-chain contracts.
const EtherDecimals = 18

// MaxDecimals bounds the precision accepted by ParseUnits and FormatUnits.
const MaxDecimals = 77

var (
	// ErrInvalidAmount is returned when a decimal string cannot be parsed.
	ErrInvalidAmount = errors.New("units: invalid amount")
	// ErrTooManyDecimals is returned when the fractional part exceeds the precision.
	ErrTooManyDecimals = errors.New("units: too many decimal places")
	// ErrOverflow is returned when the parsed value does not fit in 256 bits.
	ErrOverflow = errors.New("units: amount overflows uint256")
)

// ParseEther parses an 18-decimal amount such as "0.05" into wei.
func ParseEther(value string) (*big.Int, error) {
	return ParseUnits(value, EtherDecimals)
}

// FormatEther renders a wei amount as a decimal string, e.g. 1e18 -> "1.0".
func FormatEther(value *big.Int) string {
	return FormatUnits(value, EtherDecimals)
}

// ParseUnits parses a non-negative decimal string into a fixed-point integer
// carrying the supplied number of decimals.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, fmt.Errorf("units: unsupported precision %d", decimals)
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	whole, frac, hasDot := strings.Cut(trimmed, ".")
	if hasDot && whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: %q has more than %d", ErrTooManyDecimals, value, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if _, overflow := uint256.FromBig(out); overflow {
		return nil, fmt.Errorf("%w: %q", ErrOverflow, value)
	}
	return out, nil
}

// FormatUnits renders a fixed-point integer as a decimal string. Trailing
// fractional zeros are trimmed but at least one fractional digit is kept.
// A nil value formats as zero.
func FormatUnits(value *big.Int, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	if value == nil {
		value = new(big.Int)
	}
	negative := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		frac = "0"
	}
	out := whole + "." + frac
	if negative {
		out = "-" + out
	}
	return out
}

// IsPositive reports whether a decimal amount string is strictly greater
// than zero. Unparseable strings are not positive.
func IsPositive(value string) bool {
	whole, frac, _ := strings.Cut(strings.TrimSpace(value), ".")
	if whole+frac == "" || !digitsOnly(whole) || !digitsOnly(frac) {
		return false
	}
	return strings.Trim(whole+frac, "0") != ""
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
