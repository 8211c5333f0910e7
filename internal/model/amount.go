package model

import (
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

// ToWei converts a human-scale TBURN amount to base units. Sub-wei precision is truncated.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(types.TokenDecimals).BigInt()
}

// FromWei converts base units back to a human-scale TBURN amount
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -types.TokenDecimals)
}
