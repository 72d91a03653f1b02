package engine

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"snipebot/internal/config"
	"snipebot/internal/exchange"
	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var gwei = big.NewInt(1_000_000_000)

// Acquirer buys newly discovered assets through the sniper contract and
// registers them as positions.
type Acquirer struct {
	cfg    config.SnipeConfig
	trader exchange.Trader
	oracle *Oracle
	store  *Store
	log    *logger.Logger

	now          func() time.Time
	retryBackoff time.Duration
	timeout      time.Duration

	mu       sync.Mutex
	inflight map[common.Address]struct{}
}

func NewAcquirer(cfg config.SnipeConfig, trader exchange.Trader, oracle *Oracle, store *Store, log *logger.Logger) *Acquirer {
	return &Acquirer{
		cfg:          cfg,
		trader:       trader,
		oracle:       oracle,
		store:        store,
		log:          log,
		now:          time.Now,
		retryBackoff: time.Second,
		timeout:      defaultActionTimeout,
		inflight:     make(map[common.Address]struct{}),
	}
}

// Acquire runs one buy attempt for a discovered pair. At most one attempt per
// asset is in flight and held assets are never bought again.
func (a *Acquirer) Acquire(ctx context.Context, d models.Discovery) (models.Position, error) {
	entry := a.logEntry().WithFields(logrus.Fields{
		"asset": d.Asset.Hex(),
		"pair":  d.Pair.Hex(),
		"block": d.Block,
	})
	if !a.cfg.Enabled {
		entry.Info("Снайпинг выключен, новая пара только залогирована.")
		return models.Position{}, ErrSnipeDisabled
	}
	if !a.claim(d.Asset) {
		entry.Debug("Актив уже куплен или покупка идёт.")
		return models.Position{}, fmt.Errorf("%w: %s", ErrAlreadyExists, d.Asset.Hex())
	}
	defer a.release(d.Asset)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sample, err := a.oracle.GetPrice(ctx, d.Pair)
	if err != nil {
		entry.WithError(err).Warn("Не удалось оценить пул новой пары.")
		return models.Position{}, err
	}
	if sample.BaseLiquidity < a.cfg.MinLiquidity {
		entry.WithField("liquidity", formatFloatPlain(sample.BaseLiquidity)).Info("Ликвидность ниже порога, покупка пропущена.")
		return models.Position{}, fmt.Errorf("%w: ликвидность %s", ErrGated, formatFloatPlain(sample.BaseLiquidity))
	}

	gasPrice, err := a.trader.SuggestGasPrice(ctx)
	if err != nil {
		return models.Position{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	gasGwei := decimal.NewFromBigInt(gasPrice, 0).Div(decimal.NewFromBigInt(gwei, 0)).InexactFloat64()
	if a.cfg.MaxGasPriceGwei > 0 && gasGwei > a.cfg.MaxGasPriceGwei {
		entry.WithField("gas_gwei", gasGwei).Info("Цена газа выше лимита, покупка пропущена.")
		return models.Position{}, fmt.Errorf("%w: газ %.2f gwei", ErrGated, gasGwei)
	}
	bumped := new(big.Int).Mul(gasPrice, big.NewInt(int64(100+a.cfg.GasPriceBumpPercent)))
	bumped.Quo(bumped, big.NewInt(100))

	before, err := withRetry(ctx, entry, a.retryBackoff, func() (*big.Int, error) {
		return a.trader.BalanceHeld(ctx, d.Asset)
	})
	if err != nil {
		return models.Position{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	amountIn := FromBase(a.cfg.AmountPerSnipe)
	entry.WithFields(logrus.Fields{
		"amount_in": a.cfg.AmountPerSnipe,
		"gas_price": bumped.String(),
		"max_tax":   a.cfg.MaxTaxPercent,
	}).Info("Отправляем покупку.")
	receipt, err := a.trader.Buy(ctx, exchange.BuyRequest{
		Asset:         d.Asset,
		AmountIn:      amountIn,
		MinOut:        big.NewInt(0),
		MaxTaxPercent: int64(a.cfg.MaxTaxPercent),
		Deadline:      a.now().Add(time.Duration(a.cfg.DeadlineSeconds) * time.Second),
		GasPrice:      bumped,
	})
	if err != nil {
		entry.WithError(err).WithField("kind", exchange.KindOf(err).String()).Warn("Покупка не удалась.")
		if exchange.KindOf(err) == exchange.KindTransient {
			return models.Position{}, fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return models.Position{}, fmt.Errorf("%w: %w", ErrReverted, err)
	}
	if !receipt.Succeeded() {
		entry.WithField("tx", receipt.TxHash.Hex()).Warn("Покупка отменена в сети.")
		return models.Position{}, fmt.Errorf("%w: %s", ErrReverted, receipt.TxHash.Hex())
	}

	after, err := withRetry(ctx, entry, a.retryBackoff, func() (*big.Int, error) {
		return a.trader.BalanceHeld(ctx, d.Asset)
	})
	if err != nil {
		return models.Position{}, fmt.Errorf("%w: баланс после покупки: %w", ErrTransient, err)
	}
	received := new(big.Int).Sub(after, before)
	if received.Sign() <= 0 {
		entry.WithField("tx", receipt.TxHash.Hex()).Error("Покупка подтверждена, но токены не получены.")
		return models.Position{}, fmt.Errorf("%w: токены не получены", ErrNothingHeld)
	}

	receivedTokens := ToBase(received).InexactFloat64()
	expected := ExpectedAmountOut(a.cfg.AmountPerSnipe, sample.BaseLiquidity, sample.CounterLiquidity)
	pos := models.Position{
		Asset:          d.Asset,
		Pair:           d.Pair,
		EntryPrice:     a.cfg.AmountPerSnipe / receivedTokens,
		EntryAmount:    received,
		EntryCost:      decimal.NewFromFloat(a.cfg.AmountPerSnipe),
		EntryTime:      a.now(),
		EntryTxHash:    receipt.TxHash,
		SellTaxPercent: TaxPercent(expected, receivedTokens),
		SellTaxKnown:   expected > 0,
	}
	if err := a.store.Add(pos); err != nil {
		entry.WithError(err).Error("Не удалось зарегистрировать позицию.")
		return models.Position{}, err
	}

	entry.WithFields(logrus.Fields{
		"tx":          receipt.TxHash.Hex(),
		"received":    received.String(),
		"entry_price": formatFloatPlain(pos.EntryPrice),
		"tax":         strconv.FormatFloat(pos.SellTaxPercent, 'f', 2, 64),
	}).Info("Покупка подтверждена, позиция добавлена.")
	stored, _ := a.store.Get(d.Asset)
	return stored, nil
}

func (a *Acquirer) claim(asset common.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inflight[asset]; ok || a.store.Has(asset) {
		return false
	}
	a.inflight[asset] = struct{}{}
	return true
}

func (a *Acquirer) release(asset common.Address) {
	a.mu.Lock()
	delete(a.inflight, asset)
	a.mu.Unlock()
}

func (a *Acquirer) logEntry() *logrus.Entry {
	return a.log.WithComponent("acquirer")
}
