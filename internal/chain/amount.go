package chain

import (
	"fmt"
	"math/big"
	"strings"
)

// unitDecimals maps supported unit suffixes to their power of ten.
var unitDecimals = map[string]int{
	"wei":   0,
	"gwei":  9,
	"ether": 18,
}

// ParseAmount parses a wei amount.
//
// Accepted forms:
//
//	"1000"        decimal wei
//	"0x3e8"       hex wei
//	"21 gwei"     integer or decimal with a unit suffix (wei, gwei, ether)
//	"1.5 ether"
//
// Negative amounts and fractional wei are rejected.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	fields := strings.Fields(s)
	number, unit := fields[0], "wei"
	switch len(fields) {
	case 1:
	case 2:
		unit = strings.ToLower(fields[1])
	default:
		return nil, fmt.Errorf("invalid amount %q", s)
	}

	decimals, ok := unitDecimals[unit]
	if !ok {
		return nil, fmt.Errorf("invalid amount %q: unknown unit %q", s, unit)
	}

	if strings.HasPrefix(number, "-") {
		return nil, fmt.Errorf("invalid amount %q: must be non-negative", s)
	}

	if strings.HasPrefix(number, "0x") || strings.HasPrefix(number, "0X") {
		if unit != "wei" {
			return nil, fmt.Errorf("invalid amount %q: hex amounts are always wei", s)
		}
		v, ok := new(big.Int).SetString(number[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		return v, nil
	}

	whole, frac, _ := strings.Cut(number, ".")
	if len(frac) > decimals {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals for %s", s, decimals, unit)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	if digits == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// MustParseAmount is ParseAmount for constants. Panics on error.
func MustParseAmount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// AmountValue converts a YAML-decoded value (string or integer) to wei.
func AmountValue(v interface{}) (*big.Int, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("amount is required")
	case string:
		return ParseAmount(val)
	case int:
		if val < 0 {
			return nil, fmt.Errorf("invalid amount %d: must be non-negative", val)
		}
		return big.NewInt(int64(val)), nil
	case int64:
		if val < 0 {
			return nil, fmt.Errorf("invalid amount %d: must be non-negative", val)
		}
		return big.NewInt(val), nil
	case uint64:
		return new(big.Int).SetUint64(val), nil
	case *big.Int:
		return new(big.Int).Set(val), nil
	default:
		return nil, fmt.Errorf("unsupported amount type %T", v)
	}
}
