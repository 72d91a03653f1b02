package engine

import (
	"time"

	"snipebot/internal/config"
	"snipebot/internal/models"
)

// Evaluate decides whether a position should be exited at the sampled price.
// Gates are checked first and suppress every trigger; triggers are checked in
// a fixed order and the first match wins. Callers apply ObservePrice before
// calling so the trailing stop sees the current extreme.
func Evaluate(p models.Position, s models.PriceSample, cfg config.ExitConfig, now time.Time) models.ExitDecision {
	profit := ProfitPercent(p.EntryPrice, s.Rate)
	d := models.ExitDecision{
		Reason:        models.ExitReasonNone,
		ObservedPrice: s.Rate,
		ProfitPercent: profit,
	}

	if s.BaseLiquidity < cfg.MinLiquidityForExit {
		d.Reason = models.ExitReasonLowLiquidity
		return d
	}
	if p.SellTaxKnown && p.SellTaxPercent > cfg.MaxSellTaxPercent {
		d.Reason = models.ExitReasonHighSellTax
		return d
	}

	switch {
	case profit >= cfg.TakeProfitPercent:
		d.Reason = models.ExitReasonTakeProfit
		d.ExitFraction = 1
		if cfg.EnablePartialExits && !p.PartialExited {
			d.ExitFraction = cfg.PartialExitFraction
		}
	case profit <= cfg.StopLossPercent:
		d.Reason = models.ExitReasonStopLoss
		d.ExitFraction = 1
	case !p.EntryTime.IsZero() && now.Sub(p.EntryTime) >= cfg.MaxHoldDuration:
		d.Reason = models.ExitReasonMaxHoldTime
		d.ExitFraction = 1
	case profit > 0 && DropFromHighPercent(p.HighestPrice, s.Rate) >= cfg.TrailingStopDropPercent:
		d.Reason = models.ExitReasonTrailingStop
		d.ExitFraction = 1
	default:
		return d
	}

	d.ShouldExit = true
	return d
}

// ObservePrice records a sampled price on a copy of p.
func ObservePrice(p models.Position, price float64, at time.Time) models.Position {
	p.LastPrice = price
	p.LastCheckedAt = at
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if p.LowestPrice == 0 || price < p.LowestPrice {
		p.LowestPrice = price
	}
	return p
}
