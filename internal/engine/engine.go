package engine

import (
	"context"
	"sync"

	"snipebot/internal/config"
	"snipebot/internal/exchange"
	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// Engine owns the position lifecycle: acquisition from discoveries, periodic
// exit monitoring and the emergency exit.
type Engine struct {
	cfg    *config.Config
	client exchange.Client
	log    *logger.Logger

	store     *Store
	history   *History
	oracle    *Oracle
	executor  *Executor
	monitor   *Monitor
	acquirer  *Acquirer
	emergency *EmergencyExit

	wg sync.WaitGroup
}

func New(cfg *config.Config, client exchange.Client, log *logger.Logger) *Engine {
	store := NewStore()
	history := NewHistory()
	oracle := NewOracle(client, common.HexToAddress(cfg.Chain.BaseCurrency), cfg.Exit.PriceTimeout)
	executor := NewExecutor(client, store, history, cfg.Exit, log)
	executor.timeout = actionTimeout(cfg.Chain.SettlementTimeout)
	acquirer := NewAcquirer(cfg.Snipe, client, oracle, store, log)
	acquirer.timeout = executor.timeout

	return &Engine{
		cfg:       cfg,
		client:    client,
		log:       log,
		store:     store,
		history:   history,
		oracle:    oracle,
		executor:  executor,
		monitor:   NewMonitor(cfg.Exit, store, oracle, executor, history, log),
		acquirer:  acquirer,
		emergency: NewEmergencyExit(client, store, cfg.Chain.SettlementTimeout, log),
	}
}

// Start runs the exit monitor until ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.logEntry().WithField("snipe", e.cfg.Snipe.Enabled).Info("Движок запущен.")
	return e.monitor.Run(ctx)
}

// Consume hands every discovery to the acquirer. Each acquisition runs in its
// own goroutine so a slow buy never delays the next event.
func (e *Engine) Consume(ctx context.Context, discoveries <-chan models.Discovery) error {
	defer e.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-discoveries:
			if !ok {
				e.logEntry().Warn("Канал новых пар закрыт.")
				return nil
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				_, _ = e.acquirer.Acquire(ctx, d)
			}()
		}
	}
}

// Track registers a position acquired outside the discovery path.
func (e *Engine) Track(p models.Position) error {
	if err := e.store.Add(p); err != nil {
		return err
	}
	stored, _ := e.store.Get(p.Asset)
	e.logEntry().WithFields(positionFields(stored)).Info("Позиция добавлена в отслеживание.")
	return nil
}

func (e *Engine) ForceSell(ctx context.Context, asset common.Address) (models.SellRecord, error) {
	return e.monitor.ForceSell(ctx, asset)
}

func (e *Engine) HandleFatal(ctx context.Context, cause error) {
	e.emergency.HandleFatal(ctx, cause)
}

// Shutdown withdraws the base currency after a clean stop. It is a no-op when
// HandleFatal already ran.
func (e *Engine) Shutdown(ctx context.Context) {
	e.emergency.Shutdown(ctx)
}

func (e *Engine) Positions() []models.Position {
	return e.store.Snapshot()
}

func (e *Engine) History() []models.SellRecord {
	return e.history.Records()
}

func (e *Engine) Summary() models.Summary {
	return e.monitor.Summary()
}
