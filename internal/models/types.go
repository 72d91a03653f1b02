package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type ExitReason string
type TransportKind string

const (
	ExitReasonNone           ExitReason = ""
	ExitReasonLowLiquidity   ExitReason = "LOW_LIQUIDITY"
	ExitReasonHighSellTax    ExitReason = "HIGH_SELL_TAX"
	ExitReasonTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitReasonStopLoss       ExitReason = "STOP_LOSS"
	ExitReasonMaxHoldTime    ExitReason = "MAX_HOLD_TIME"
	ExitReasonTrailingStop   ExitReason = "TRAILING_STOP"
	ExitReasonManualOverride ExitReason = "MANUAL_OVERRIDE"

	TransportNone      TransportKind = ""
	TransportWebSocket TransportKind = "websocket"
	TransportPolling   TransportKind = "http_polling"
)

// IsGate reports whether the reason is a policy gate rather than an exit trigger.
func (r ExitReason) IsGate() bool {
	return r == ExitReasonLowLiquidity || r == ExitReasonHighSellTax
}

type Position struct {
	Asset          common.Address  `json:"asset"`
	Pair           common.Address  `json:"pair"`
	EntryPrice     float64         `json:"entry_price"`
	EntryAmount    *big.Int        `json:"entry_amount"`
	EntryCost      decimal.Decimal `json:"entry_cost"`
	EntryTime      time.Time       `json:"entry_time"`
	EntryTxHash    common.Hash     `json:"entry_tx_hash"`
	Remaining      *big.Int        `json:"remaining"`
	HighestPrice   float64         `json:"highest_price"`
	LowestPrice    float64         `json:"lowest_price"`
	LastPrice      float64         `json:"last_price"`
	LastCheckedAt  time.Time       `json:"last_checked_at"`
	SellTaxPercent float64         `json:"sell_tax_percent"`
	SellTaxKnown   bool            `json:"sell_tax_known"`
	PartialExited  bool            `json:"partial_exited"`
	Closed         bool            `json:"closed"`
}

// Clone returns a deep copy so callers never share big.Int storage with the store.
func (p Position) Clone() Position {
	c := p
	if p.EntryAmount != nil {
		c.EntryAmount = new(big.Int).Set(p.EntryAmount)
	}
	if p.Remaining != nil {
		c.Remaining = new(big.Int).Set(p.Remaining)
	}
	return c
}

type PriceSample struct {
	Pair             common.Address `json:"pair"`
	Rate             float64        `json:"rate"`
	BaseLiquidity    float64        `json:"base_liquidity"`
	CounterLiquidity float64        `json:"counter_liquidity"`
	Timestamp        time.Time      `json:"timestamp"`
}

type ExitDecision struct {
	ShouldExit    bool       `json:"should_exit"`
	Reason        ExitReason `json:"reason"`
	ObservedPrice float64    `json:"observed_price"`
	ProfitPercent float64    `json:"profit_percent"`
	ExitFraction  float64    `json:"exit_fraction"`
}

type SellRecord struct {
	ID             string          `json:"id"`
	Asset          common.Address  `json:"asset"`
	Reason         ExitReason      `json:"reason"`
	EntryPrice     float64         `json:"entry_price"`
	ExitPrice      float64         `json:"exit_price"`
	ProfitPercent  float64         `json:"profit_percent"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
	Proceeds       decimal.Decimal `json:"proceeds"`
	Fraction       float64         `json:"fraction"`
	AmountSold     *big.Int        `json:"amount_sold"`
	TxHash         common.Hash     `json:"tx_hash"`
	BlockNumber    uint64          `json:"block_number"`
	Timestamp      time.Time       `json:"timestamp"`
}

type Summary struct {
	TotalSells      int             `json:"total_sells"`
	ProfitableSells int             `json:"profitable_sells"`
	LossSells       int             `json:"loss_sells"`
	WinRate         float64         `json:"win_rate"`
	TotalProfit     decimal.Decimal `json:"total_profit"`
	HeldCount       int             `json:"held_count"`
}

type Discovery struct {
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
	Pair   common.Address `json:"pair"`
	Asset  common.Address `json:"asset"`
	Block  uint64         `json:"block"`
	TxHash common.Hash    `json:"tx_hash"`
	SeenAt time.Time      `json:"seen_at"`
}
