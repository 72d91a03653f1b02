package engine

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"snipebot/internal/config"
	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ScanReport counts per-position outcomes of one scan.
type ScanReport struct {
	Checked int
	Skipped int
	Gated   int
	Sold    int
	Failed  int
}

// Monitor periodically re-prices every open position and drives exits.
type Monitor struct {
	cfg      config.ExitConfig
	store    *Store
	oracle   *Oracle
	executor *Executor
	history  *History
	log      *logger.Logger
	now      func() time.Time

	busy  atomic.Bool
	scans atomic.Int64
}

func NewMonitor(cfg config.ExitConfig, store *Store, oracle *Oracle, executor *Executor, history *History, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		store:    store,
		oracle:   oracle,
		executor: executor,
		history:  history,
		log:      log,
		now:      time.Now,
	}
}

// Run scans on a fixed cadence until ctx is done. A scan in progress when ctx
// ends runs to completion; no new scan starts afterwards.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.cfg.CheckInterval()
	m.logEntry().WithFields(logrus.Fields{
		"interval":      interval.String(),
		"take_profit":   m.cfg.TakeProfitPercent,
		"stop_loss":     m.cfg.StopLossPercent,
		"max_hold":      m.cfg.MaxHoldDuration.String(),
		"trailing_stop": m.cfg.TrailingStopDropPercent,
		"partial_exits": m.cfg.EnablePartialExits,
		"partial_share": m.cfg.PartialExitFraction,
		"min_liquidity": m.cfg.MinLiquidityForExit,
		"max_sell_tax":  m.cfg.MaxSellTaxPercent,
	}).Info("Мониторинг позиций запущен.")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logEntry().Info("Мониторинг позиций остановлен.")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			if _, err := m.Scan(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrScanInProgress) {
				m.logEntry().WithError(err).Warn("Проверка позиций завершилась с ошибкой.")
			}
		}
	}
}

// Scan evaluates every open position once. A second call while one is in
// flight returns ErrScanInProgress immediately.
func (m *Monitor) Scan(ctx context.Context) (ScanReport, error) {
	if !m.busy.CompareAndSwap(false, true) {
		m.logEntry().Debug("Предыдущая проверка ещё идёт, пропускаем цикл.")
		return ScanReport{}, ErrScanInProgress
	}
	defer m.busy.Store(false)

	seq := m.scans.Add(1)
	positions := m.store.Snapshot()
	var report ScanReport
	for _, p := range positions {
		switch m.checkPosition(ctx, p.Asset) {
		case outcomeSkipped:
			report.Skipped++
		case outcomeGated:
			report.Gated++
		case outcomeSold:
			report.Sold++
		case outcomeFailed:
			report.Failed++
		}
		report.Checked++
	}

	if len(positions) > 0 {
		m.logEntry().WithFields(logrus.Fields{
			"scan":    seq,
			"checked": report.Checked,
			"sold":    report.Sold,
			"gated":   report.Gated,
			"failed":  report.Failed,
			"skipped": report.Skipped,
		}).Info("Проверка позиций завершена.")
	}
	return report, nil
}

type outcome int

const (
	outcomeHeld outcome = iota
	outcomeSkipped
	outcomeGated
	outcomeSold
	outcomeFailed
)

func (m *Monitor) checkPosition(ctx context.Context, asset common.Address) (res outcome) {
	entry := m.logEntry().WithField("asset", asset.Hex())
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("Сбой при проверке позиции.")
			res = outcomeFailed
		}
	}()

	unlock, err := m.store.Lock(asset)
	if err != nil {
		return outcomeSkipped
	}
	defer unlock()

	pos, ok := m.store.Get(asset)
	if !ok || pos.Closed {
		return outcomeSkipped
	}

	sample, err := m.oracle.GetPrice(ctx, pos.Pair)
	if err != nil {
		if errors.Is(err, ErrNoLiquidity) {
			entry.WithError(err).Warn("Нет ликвидности, позиция пропущена в этом цикле.")
		} else {
			entry.WithError(err).Warn("Не удалось получить цену, позиция пропущена в этом цикле.")
		}
		return outcomeFailed
	}

	pos, err = m.store.Observe(asset, sample.Rate, m.now())
	if err != nil {
		return outcomeSkipped
	}

	d := Evaluate(pos, sample, m.cfg, m.now())
	fields := logrus.Fields{
		"price":     formatFloatPlain(sample.Rate),
		"profit":    strconv.FormatFloat(d.ProfitPercent, 'f', 2, 64),
		"high":      formatFloatPlain(pos.HighestPrice),
		"liquidity": formatFloatPlain(sample.BaseLiquidity),
		"held_for":  m.now().Sub(pos.EntryTime).Round(time.Second).String(),
	}
	if !d.ShouldExit {
		if d.Reason.IsGate() {
			entry.WithFields(fields).WithField("reason", d.Reason).Info("Продажа запрещена фильтром, позиция удерживается.")
			return outcomeGated
		}
		entry.WithFields(fields).Debug("Условия выхода не выполнены.")
		return outcomeHeld
	}

	entry.WithFields(fields).WithFields(decisionFields(d)).Info("Сработало условие выхода.")
	if _, err := m.executor.ExecuteSell(ctx, pos, d); err != nil {
		return outcomeFailed
	}
	return outcomeSold
}

// ForceSell exits the whole position at the current price regardless of the
// policy. Gates are not applied.
func (m *Monitor) ForceSell(ctx context.Context, asset common.Address) (models.SellRecord, error) {
	unlock, err := m.store.Lock(asset)
	if err != nil {
		return models.SellRecord{}, err
	}
	defer unlock()

	pos, ok := m.store.Get(asset)
	if !ok {
		return models.SellRecord{}, ErrNotFound
	}
	sample, err := m.oracle.GetPrice(ctx, pos.Pair)
	if err != nil {
		return models.SellRecord{}, err
	}
	pos, err = m.store.Observe(asset, sample.Rate, m.now())
	if err != nil {
		return models.SellRecord{}, err
	}

	d := models.ExitDecision{
		ShouldExit:    true,
		Reason:        models.ExitReasonManualOverride,
		ObservedPrice: sample.Rate,
		ProfitPercent: ProfitPercent(pos.EntryPrice, sample.Rate),
		ExitFraction:  1,
	}
	m.logEntry().WithFields(positionFields(pos)).WithFields(decisionFields(d)).Info("Ручная продажа позиции.")
	return m.executor.ExecuteSell(ctx, pos, d)
}

// Summary returns realized results plus the number of positions still held.
func (m *Monitor) Summary() models.Summary {
	sum := m.history.Summary()
	sum.HeldCount = m.store.Len()
	return sum
}

func (m *Monitor) logEntry() *logrus.Entry {
	return m.log.WithComponent("monitor")
}
