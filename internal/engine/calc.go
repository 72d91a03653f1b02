package engine

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	baseDecimals  = 18
	fractionScale = 1_000_000

	// PancakeSwap v2 pool fee, in basis points of the input.
	poolFeeBps = 25
)

func ToBase(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -baseDecimals)
}

func FromBase(amount float64) *big.Int {
	return decimal.NewFromFloat(amount).Shift(baseDecimals).BigInt()
}

func ProfitPercent(entryPrice, price float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	return (price - entryPrice) / entryPrice * 100
}

func DropFromHighPercent(highest, price float64) float64 {
	if highest <= 0 {
		return 0
	}
	return (highest - price) / highest * 100
}

// SellAmount returns floor(remaining * fraction). The fraction is quantized to
// parts per million so the multiplication stays in integers.
func SellAmount(remaining *big.Int, fraction float64) *big.Int {
	if remaining == nil || remaining.Sign() <= 0 || !(fraction > 0) {
		return new(big.Int)
	}
	if fraction >= 1 {
		return new(big.Int).Set(remaining)
	}
	ppm := int64(math.Round(fraction * fractionScale))
	if ppm <= 0 {
		return new(big.Int)
	}
	amount := new(big.Int).Mul(remaining, big.NewInt(ppm))
	return amount.Quo(amount, big.NewInt(fractionScale))
}

// CostBasis attributes entryCost proportionally to the sold amount.
func CostBasis(entryCost decimal.Decimal, sold, entryAmount *big.Int) decimal.Decimal {
	if entryAmount == nil || entryAmount.Sign() <= 0 || sold == nil {
		return decimal.Zero
	}
	return entryCost.Mul(decimal.NewFromBigInt(sold, 0)).Div(decimal.NewFromBigInt(entryAmount, 0))
}

// ExpectedAmountOut is the constant-product output for amountIn before any token tax.
func ExpectedAmountOut(amountIn, reserveIn, reserveOut float64) float64 {
	if amountIn <= 0 || reserveIn <= 0 || reserveOut <= 0 {
		return 0
	}
	inWithFee := amountIn * (10_000 - poolFeeBps)
	return inWithFee * reserveOut / (reserveIn*10_000 + inWithFee)
}

func TaxPercent(expected, received float64) float64 {
	if expected <= 0 {
		return 0
	}
	tax := (1 - received/expected) * 100
	return math.Max(0, math.Min(100, tax))
}
