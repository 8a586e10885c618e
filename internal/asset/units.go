package asset

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ParseUnits converts a decimal token amount such as "0.001" into the smallest
// unit for the given number of decimals.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return v, nil
}

// FormatUnits renders a smallest-unit amount as a decimal token string.
func FormatUnits(v *uint256.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	dec := v.Dec()
	if decimals == 0 {
		return dec
	}
	if len(dec) <= int(decimals) {
		dec = strings.Repeat("0", int(decimals)-len(dec)+1) + dec
	}
	cut := len(dec) - int(decimals)
	whole, frac := dec[:cut], strings.TrimRight(dec[cut:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
