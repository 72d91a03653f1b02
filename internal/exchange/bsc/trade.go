package bsc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"snipebot/internal/exchange"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var errNoKey = errors.New("приватный ключ не задан")

func (c *Client) Sell(ctx context.Context, req exchange.SellRequest) (*exchange.Receipt, error) {
	minOut := req.MinOut
	if minOut == nil {
		minOut = big.NewInt(0)
	}
	data, err := sniperABI.Pack("sellTokens", req.Asset, req.Amount, minOut, big.NewInt(req.Deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("sellTokens pack: %w", err)
	}
	return c.transact(ctx, "sell", nil, nil, data)
}

func (c *Client) Buy(ctx context.Context, req exchange.BuyRequest) (*exchange.Receipt, error) {
	minOut := req.MinOut
	if minOut == nil {
		minOut = big.NewInt(0)
	}
	data, err := sniperABI.Pack("snipeWithTaxCheck", req.Asset, minOut, big.NewInt(req.MaxTaxPercent), big.NewInt(req.Deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("snipeWithTaxCheck pack: %w", err)
	}
	return c.transact(ctx, "buy", req.AmountIn, req.GasPrice, data)
}

func (c *Client) WithdrawAsset(ctx context.Context, asset common.Address) (*exchange.Receipt, error) {
	data, err := sniperABI.Pack("withdrawToken", asset)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "withdraw_token", nil, nil, data)
}

func (c *Client) WithdrawBaseCurrency(ctx context.Context) (*exchange.Receipt, error) {
	data, err := sniperABI.Pack("emergencyWithdrawBNB")
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "withdraw_base", nil, nil, data)
}

// transact signs and submits a call to the sniper contract and waits for its
// receipt. A mined but reverted transaction is returned with ReceiptReverted
// and a nil error.
func (c *Client) transact(ctx context.Context, op string, value, gasPrice *big.Int, data []byte) (*exchange.Receipt, error) {
	if c.key == nil {
		return nil, exchange.NewError(exchange.KindTransient, op, errNoKey)
	}
	if value == nil {
		value = big.NewInt(0)
	}

	signed, gas, err := c.submit(ctx, op, value, gasPrice, data)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.settlementTimeout)
	defer cancel()
	receipt, err := c.waitForReceipt(waitCtx, signed.Hash())
	if err != nil {
		return nil, exchange.NewError(exchange.KindTransient, op, fmt.Errorf("не дождались подтверждения %s: %w", signed.Hash().Hex(), err))
	}

	out := &exchange.Receipt{
		TxHash:      signed.Hash(),
		Status:      exchange.ReceiptReverted,
		BlockNumber: receiptBlock(receipt),
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		out.Status = exchange.ReceiptSuccess
		out.Proceeds = c.soldProceeds(receipt)
	}
	c.logEntry().WithFields(map[string]interface{}{
		"op":       op,
		"tx":       signed.Hash().Hex(),
		"gas":      gas,
		"gas_used": receipt.GasUsed,
		"status":   receipt.Status,
	}).Debug("Получено подтверждение транзакции.")
	return out, nil
}

// submit prepares, signs and sends the transaction. Every call before the
// transaction reaches the node shares one submitTimeout budget.
func (c *Client) submit(ctx context.Context, op string, value, gasPrice *big.Int, data []byte) (*types.Transaction, uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, exchange.NewError(exchange.KindTransient, op, err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, 0, exchange.NewError(exchange.KindTransient, op, fmt.Errorf("nonce: %w", err))
	}
	if gasPrice == nil {
		gasPrice, err = c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, 0, exchange.NewError(exchange.KindTransient, op, fmt.Errorf("gas price: %w", err))
		}
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.address,
		To:       &c.sniper,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		if exchange.KindOf(err) == exchange.KindUnsellable {
			return nil, 0, exchange.Classify(op, err)
		}
		if ctx.Err() != nil {
			return nil, 0, exchange.NewError(exchange.KindTransient, op, fmt.Errorf("estimate gas: %w", err))
		}
		c.logEntry().WithError(err).WithField("op", op).Warn("Оценка газа не удалась, используем лимит по умолчанию.")
		gas = c.gasLimit
	} else {
		gas = gas * 12 / 10
		if gas > c.gasLimit {
			gas = c.gasLimit
		}
	}

	tx := types.NewTransaction(nonce, c.sniper, value, gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return nil, 0, exchange.NewError(exchange.KindTransient, op, fmt.Errorf("sign: %w", err))
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, 0, exchange.Classify(op, err)
	}

	c.logEntry().WithFields(map[string]interface{}{
		"op":        op,
		"tx":        signed.Hash().Hex(),
		"gas":       gas,
		"gas_price": gasPrice.String(),
		"nonce":     nonce,
	}).Info("Транзакция отправлена, ожидание подтверждения.")

	return signed, gas, nil
}

func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.backend.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue
			}
			return receipt, nil
		}
	}
}

// soldProceeds extracts bnbOut from the contract's Sold event.
func (c *Client) soldProceeds(receipt *types.Receipt) *big.Int {
	soldID := sniperABI.Events["Sold"].ID
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != c.sniper || len(lg.Topics) == 0 || lg.Topics[0] != soldID {
			continue
		}
		vals, err := sniperABI.Unpack("Sold", lg.Data)
		if err != nil || len(vals) < 2 {
			c.logEntry().WithError(err).Warn("Не удалось разобрать событие Sold.")
			continue
		}
		if out, ok := vals[1].(*big.Int); ok {
			return out
		}
	}
	return nil
}

func receiptBlock(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
