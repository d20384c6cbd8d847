package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals between wei and ether.
const EtherDecimals = 18

// ErrTooManyDecimals is returned when an ether amount is finer than one wei.
var ErrTooManyDecimals = errors.New("too many decimals for ether amount")

// ParseEther converts a decimal ether string such as "0.1" to wei.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("parse ether amount %q: %w", amount, err)
	}
	if d.Exponent() < -EtherDecimals {
		return nil, ErrTooManyDecimals
	}
	return d.Shift(EtherDecimals).BigInt(), nil
}

// FormatEther renders wei as a decimal ether string. Whole amounts keep one
// fractional digit, so 1e18 renders as "1.0".
func FormatEther(wei *big.Int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	s := decimal.NewFromBigInt(wei, -EtherDecimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
