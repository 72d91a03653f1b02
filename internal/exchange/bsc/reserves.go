package bsc

import (
	"context"
	"fmt"
	"math/big"

	"snipebot/internal/exchange"

	"github.com/ethereum/go-ethereum/common"
)

func (c *Client) QueryReserves(ctx context.Context, pair common.Address) (exchange.Reserves, error) {
	token0, err := c.callAddress(ctx, pair, "token0")
	if err != nil {
		return exchange.Reserves{}, err
	}
	token1, err := c.callAddress(ctx, pair, "token1")
	if err != nil {
		return exchange.Reserves{}, err
	}

	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return exchange.Reserves{}, err
	}
	out, err := c.call(ctx, pair, data)
	if err != nil {
		return exchange.Reserves{}, fmt.Errorf("getReserves %s: %w", pair.Hex(), err)
	}
	vals, err := pairABI.Unpack("getReserves", out)
	if err != nil || len(vals) < 2 {
		return exchange.Reserves{}, fmt.Errorf("не удалось разобрать getReserves %s: %v", pair.Hex(), err)
	}
	r0, ok0 := vals[0].(*big.Int)
	r1, ok1 := vals[1].(*big.Int)
	if !ok0 || !ok1 {
		return exchange.Reserves{}, fmt.Errorf("неожиданный формат getReserves %s", pair.Hex())
	}

	return exchange.Reserves{
		Token0:   token0,
		Reserve0: r0,
		Token1:   token1,
		Reserve1: r1,
	}, nil
}

func (c *Client) BalanceHeld(ctx context.Context, asset common.Address) (*big.Int, error) {
	data, err := sniperABI.Pack("getTokenBalance", asset)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, c.sniper, data)
	if err != nil {
		return nil, exchange.Classify("balance", err)
	}
	vals, err := sniperABI.Unpack("getTokenBalance", out)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("не удалось разобрать getTokenBalance: %v", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("неожиданный формат getTokenBalance")
	}
	return bal, nil
}

func (c *Client) callAddress(ctx context.Context, to common.Address, method string) (common.Address, error) {
	data, err := pairABI.Pack(method)
	if err != nil {
		return common.Address{}, err
	}
	out, err := c.call(ctx, to, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s %s: %w", method, to.Hex(), err)
	}
	vals, err := pairABI.Unpack(method, out)
	if err != nil || len(vals) == 0 {
		return common.Address{}, fmt.Errorf("не удалось разобрать %s %s: %v", method, to.Hex(), err)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("неожиданный формат %s", method)
	}
	return addr, nil
}
