package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"snipebot/internal/exchange"
	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/sirupsen/logrus"
)

var errStopped = errors.New("остановка по сигналу")

// EmergencyExit is the terminal action of the process. It pulls the base
// currency out of the sniper contract; after a fatal feed failure it also
// sweeps every still-held asset to the owner wallet. Only the first call of
// either HandleFatal or Shutdown does anything.
type EmergencyExit struct {
	trader  exchange.Trader
	store   *Store
	log     *logger.Logger
	timeout time.Duration

	once sync.Once
	done chan struct{}
}

func NewEmergencyExit(trader exchange.Trader, store *Store, timeout time.Duration, log *logger.Logger) *EmergencyExit {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &EmergencyExit{trader: trader, store: store, log: log, timeout: timeout, done: make(chan struct{})}
}

// HandleFatal withdraws the base currency and sweeps held assets.
func (x *EmergencyExit) HandleFatal(ctx context.Context, cause error) {
	x.run(ctx, cause, true)
}

// Shutdown withdraws the base currency on a clean stop. Held assets stay on
// the contract and are listed in the log.
func (x *EmergencyExit) Shutdown(ctx context.Context) {
	x.run(ctx, errStopped, false)
}

func (x *EmergencyExit) run(ctx context.Context, cause error, sweep bool) {
	x.once.Do(func() {
		defer close(x.done)
		entry := x.log.WithComponent("emergency").WithError(cause)
		if sweep {
			entry.Error("Фатальная ошибка, аварийный вывод средств.")
		} else {
			entry.Warn("Завершение работы, вывод базовой валюты с контракта.")
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.timeout)
		defer cancel()

		receipt, err := x.trader.WithdrawBaseCurrency(ctx)
		switch {
		case err != nil:
			entry.WithField("withdraw_error", err.Error()).Error("Вывод базовой валюты не удался.")
		case !receipt.Succeeded():
			entry.WithField("tx", receipt.TxHash.Hex()).Error("Вывод базовой валюты отменён в сети.")
		default:
			entry.WithField("tx", receipt.TxHash.Hex()).Warn("Базовая валюта выведена с контракта.")
		}

		for _, p := range x.store.Snapshot() {
			if sweep {
				x.sweep(ctx, p)
				continue
			}
			x.positionEntry(p).Warn("Позиция осталась на контракте.")
		}
	})
}

// sweep moves a held asset to the owner wallet. The position stays tracked:
// it was not sold.
func (x *EmergencyExit) sweep(ctx context.Context, p models.Position) {
	entry := x.positionEntry(p)
	receipt, err := x.trader.WithdrawAsset(ctx, p.Asset)
	switch {
	case err != nil:
		entry.WithError(err).Error("Не удалось вывести токен, позиция осталась на контракте.")
	case !receipt.Succeeded():
		entry.WithField("tx", receipt.TxHash.Hex()).Error("Вывод токена отменён в сети.")
	default:
		entry.WithField("tx", receipt.TxHash.Hex()).Warn("Токен выведен на кошелёк владельца.")
	}
}

func (x *EmergencyExit) positionEntry(p models.Position) *logrus.Entry {
	return x.log.WithAsset(p.Asset).WithFields(logrus.Fields{
		"component": "emergency",
		"remaining": p.Remaining.String(),
		"entry":     formatFloatPlain(p.EntryPrice),
	})
}

// Done is closed once the emergency exit has run.
func (x *EmergencyExit) Done() <-chan struct{} {
	return x.done
}
