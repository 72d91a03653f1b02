package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"snipebot/internal/config"
	"snipebot/internal/exchange"
	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Executor submits exit sells and applies their settled outcome to the store.
type Executor struct {
	trader  exchange.Trader
	store   *Store
	history *History
	cfg     config.ExitConfig
	log     *logger.Logger

	now          func() time.Time
	retryBackoff time.Duration

	// timeout bounds one whole ExecuteSell, balance check and settlement included.
	timeout time.Duration
}

func NewExecutor(trader exchange.Trader, store *Store, history *History, cfg config.ExitConfig, log *logger.Logger) *Executor {
	return &Executor{
		trader:       trader,
		store:        store,
		history:      history,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
		retryBackoff: time.Second,
		timeout:      defaultActionTimeout,
	}
}

// ExecuteSell sells floor(remaining * fraction) of pos. The caller must hold
// the asset's exclusive section.
//
// Confirmed success updates the position and appends a SellRecord. A mined
// revert leaves the position untouched (ErrReverted). An unsellable asset is
// closed without a record (ErrUnsellable). Anything else is ErrTransient.
func (x *Executor) ExecuteSell(ctx context.Context, pos models.Position, d models.ExitDecision) (models.SellRecord, error) {
	entry := x.logEntry().WithFields(positionFields(pos)).WithFields(decisionFields(d))

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	fraction := d.ExitFraction
	if !(fraction > 0 && fraction <= 1) {
		return models.SellRecord{}, fmt.Errorf("%w: доля продажи %v вне (0, 1]", ErrInvalidPosition, fraction)
	}
	if pos.Remaining == nil || pos.Remaining.Sign() <= 0 {
		return models.SellRecord{}, fmt.Errorf("%w: %s", ErrNothingHeld, pos.Asset.Hex())
	}

	full := fraction >= 1
	amount := SellAmount(pos.Remaining, fraction)
	if amount.Sign() == 0 {
		entry.Warn("Частичная продажа округлилась до нуля, продаём остаток целиком.")
		full = true
		amount = new(big.Int).Set(pos.Remaining)
	}

	held, err := withRetry(ctx, entry, x.retryBackoff, func() (*big.Int, error) {
		return x.trader.BalanceHeld(ctx, pos.Asset)
	})
	switch {
	case err != nil:
		entry.WithError(err).Warn("Не удалось проверить баланс контракта, продаём по учётному остатку.")
	case held.Sign() == 0:
		if _, cerr := x.store.Close(pos.Asset); cerr != nil {
			entry.WithError(cerr).Warn("Позиция уже закрыта.")
		}
		entry.Warn("На контракте нет токенов, позиция закрыта без продажи.")
		return models.SellRecord{}, fmt.Errorf("%w: %s", ErrNothingHeld, pos.Asset.Hex())
	case held.Cmp(amount) < 0:
		entry.WithField("held", held.String()).Warn("Баланс контракта меньше объёма продажи, продаём доступное.")
		amount = new(big.Int).Set(held)
	}

	req := exchange.SellRequest{
		Asset:    pos.Asset,
		Amount:   amount,
		MinOut:   big.NewInt(0),
		Deadline: x.now().Add(time.Duration(x.cfg.SellDeadlineSeconds) * time.Second),
	}
	entry.WithFields(logrus.Fields{"amount": amount.String(), "full": full}).Info("Отправляем продажу.")

	receipt, err := x.trader.Sell(ctx, req)
	if err != nil {
		return models.SellRecord{}, x.failure(entry, pos, err)
	}
	if !receipt.Succeeded() {
		entry.WithField("tx", receipt.TxHash.Hex()).Warn("Продажа отменена в сети, позиция без изменений.")
		return models.SellRecord{}, fmt.Errorf("%w: %s", ErrReverted, receipt.TxHash.Hex())
	}

	if full {
		_, err = x.store.Close(pos.Asset)
	} else {
		_, err = x.store.Reduce(pos.Asset, amount)
	}
	if err != nil {
		entry.WithError(err).Error("Не удалось обновить позицию после продажи.")
	}

	record := x.history.Append(x.record(entry, pos, d, amount, full, receipt))
	entry.WithFields(logrus.Fields{
		"tx":       receipt.TxHash.Hex(),
		"block":    receipt.BlockNumber,
		"proceeds": record.Proceeds.String(),
		"realized": record.RealizedProfit.String(),
	}).Info("Продажа подтверждена.")
	return record, nil
}

func (x *Executor) failure(entry *logrus.Entry, pos models.Position, err error) error {
	switch exchange.KindOf(err) {
	case exchange.KindUnsellable:
		if _, cerr := x.store.Close(pos.Asset); cerr != nil {
			entry.WithError(cerr).Warn("Позиция уже закрыта.")
		}
		entry.WithError(err).Error("Токен невозможно продать, позиция списана без записи в историю.")
		return fmt.Errorf("%w: %w", ErrUnsellable, err)
	case exchange.KindReverted:
		entry.WithError(err).Warn("Продажа отменена в сети, позиция без изменений.")
		return fmt.Errorf("%w: %w", ErrReverted, err)
	default:
		entry.WithError(err).Warn("Временная ошибка продажи, повторим в следующем цикле.")
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
}

func (x *Executor) record(entry *logrus.Entry, pos models.Position, d models.ExitDecision, amount *big.Int, full bool, receipt *exchange.Receipt) models.SellRecord {
	proceeds := ToBase(receipt.Proceeds)
	if receipt.Proceeds == nil {
		proceeds = ToBase(amount).Mul(decimal.NewFromFloat(d.ObservedPrice))
		entry.Warn("Событие Sold не найдено, выручка оценена по цене пула.")
	}

	cost := CostBasis(pos.EntryCost, amount, pos.EntryAmount)
	realized := proceeds.Sub(cost)
	profitPercent := d.ProfitPercent
	if cost.IsPositive() {
		profitPercent = realized.Div(cost).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	fraction := d.ExitFraction
	if full {
		fraction = 1
	}
	return models.SellRecord{
		Asset:          pos.Asset,
		Reason:         d.Reason,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      d.ObservedPrice,
		ProfitPercent:  profitPercent,
		RealizedProfit: realized,
		Proceeds:       proceeds,
		Fraction:       fraction,
		AmountSold:     amount,
		TxHash:         receipt.TxHash,
		BlockNumber:    receipt.BlockNumber,
		Timestamp:      x.now(),
	}
}

func (x *Executor) logEntry() *logrus.Entry {
	return x.log.WithComponent("executor")
}
