package engine

import (
	"context"
	"fmt"
	"time"

	"snipebot/internal/exchange"
	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// Oracle prices a pair in base currency from its reserves.
type Oracle struct {
	source  exchange.ReserveSource
	base    common.Address
	timeout time.Duration
	now     func() time.Time
}

func NewOracle(source exchange.ReserveSource, base common.Address, timeout time.Duration) *Oracle {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Oracle{source: source, base: base, timeout: timeout, now: time.Now}
}

// GetPrice returns base reserve / counter reserve. Reserve slots are matched
// by token address, never by position. ErrPriceUnavailable marks RPC failures,
// ErrNoLiquidity marks empty or foreign pools.
func (o *Oracle) GetPrice(ctx context.Context, pair common.Address) (models.PriceSample, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := o.source.QueryReserves(ctx, pair)
	if err != nil {
		return models.PriceSample{}, fmt.Errorf("%w: %s: %w", ErrPriceUnavailable, pair.Hex(), err)
	}

	baseRes, counterRes := res.Reserve0, res.Reserve1
	switch o.base {
	case res.Token0:
	case res.Token1:
		baseRes, counterRes = res.Reserve1, res.Reserve0
	default:
		return models.PriceSample{}, fmt.Errorf("%w: пул %s не содержит базовый актив", ErrNoLiquidity, pair.Hex())
	}
	if baseRes == nil || counterRes == nil || baseRes.Sign() <= 0 || counterRes.Sign() <= 0 {
		return models.PriceSample{}, fmt.Errorf("%w: пул %s пуст", ErrNoLiquidity, pair.Hex())
	}

	baseLiq := ToBase(baseRes).InexactFloat64()
	counterLiq := ToBase(counterRes).InexactFloat64()
	return models.PriceSample{
		Pair:             pair,
		Rate:             baseLiq / counterLiq,
		BaseLiquidity:    baseLiq,
		CounterLiquidity: counterLiq,
		Timestamp:        o.now(),
	}, nil
}
