package exchange

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type ReceiptStatus int

const (
	ReceiptReverted ReceiptStatus = iota
	ReceiptSuccess
)

type Reserves struct {
	Token0   common.Address
	Reserve0 *big.Int
	Token1   common.Address
	Reserve1 *big.Int
}

type SellRequest struct {
	Asset    common.Address
	Amount   *big.Int
	MinOut   *big.Int
	Deadline time.Time
}

type BuyRequest struct {
	Asset         common.Address
	AmountIn      *big.Int
	MinOut        *big.Int
	MaxTaxPercent int64
	Deadline      time.Time
	GasPrice      *big.Int
}

type Receipt struct {
	TxHash      common.Hash
	Status      ReceiptStatus
	BlockNumber uint64
	GasUsed     uint64
	// Proceeds is the base currency amount emitted by the contract's Sold event, nil when absent.
	Proceeds *big.Int
}

func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptSuccess
}

type ReserveSource interface {
	QueryReserves(ctx context.Context, pair common.Address) (Reserves, error)
}

type Trader interface {
	Sell(ctx context.Context, req SellRequest) (*Receipt, error)
	Buy(ctx context.Context, req BuyRequest) (*Receipt, error)
	BalanceHeld(ctx context.Context, asset common.Address) (*big.Int, error)
	WithdrawAsset(ctx context.Context, asset common.Address) (*Receipt, error)
	WithdrawBaseCurrency(ctx context.Context) (*Receipt, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

type Client interface {
	ReserveSource
	Trader
}
