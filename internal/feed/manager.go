package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Factory              common.Address
	BaseCurrency         common.Address
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	Heartbeat            time.Duration
	// BackfillBlocks caps how far back missed blocks are replayed after a reconnect.
	BackfillBlocks uint64
}

// Manager owns the live PairCreated subscription. All state transitions happen
// on the goroutine running Run; other goroutines only read snapshots.
type Manager struct {
	transports []Transport
	opts       Options
	fatal      FatalHandler
	log        *logger.Logger
	now        func() time.Time

	discoveries chan models.Discovery

	mu    sync.RWMutex
	state ConnectionState

	active    Transport
	sub       ethereum.Subscription
	logs      chan types.Log
	seen      map[common.Address]struct{}
	lastBlock uint64
	lastErr   error
	fatalOnce sync.Once
}

func NewManager(transports []Transport, opts Options, fatal FatalHandler, log *logger.Logger) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Minute
	}
	if opts.BackfillBlocks == 0 {
		opts.BackfillBlocks = 2000
	}
	return &Manager{
		transports:  transports,
		opts:        opts,
		fatal:       fatal,
		log:         log,
		now:         time.Now,
		discoveries: make(chan models.Discovery, 64),
		seen:        make(map[common.Address]struct{}),
	}
}

// Discoveries delivers each new base-currency pair once. It is closed when Run returns.
func (m *Manager) Discoveries() <-chan models.Discovery {
	return m.discoveries
}

func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Run drives the connection until ctx is done (nil) or reconnection is
// exhausted (ErrFatalShutdown, after the fatal handler has run).
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.discoveries)
	defer m.teardown()

	if len(m.transports) == 0 {
		m.lastErr = ErrNoTransport
		return m.shutdown(ctx)
	}

	heartbeat := time.NewTicker(m.opts.Heartbeat)
	defer heartbeat.Stop()

	next := StateConnecting
	for {
		if ctx.Err() != nil {
			m.transition(StateDisconnected)
			m.logEntry().Info("Поток событий остановлен.")
			return nil
		}
		switch next {
		case StateConnecting:
			next = m.connect(ctx)
		case StateSubscribing:
			next = m.subscribe(ctx)
		case StateLive:
			next = m.live(ctx, heartbeat.C)
		case StateDegraded:
			next = m.degrade()
		case StateReconnecting:
			next = m.reconnect(ctx)
		case StateFatal:
			return m.shutdown(ctx)
		default:
			next = StateConnecting
		}
	}
}

func (m *Manager) connect(ctx context.Context) State {
	m.transition(StateConnecting)

	var lastErr error
	for _, t := range m.transports {
		entry := m.logEntry().WithFields(logrus.Fields{"transport": t.Kind(), "endpoint": t.Endpoint()})
		head, err := m.dialTransport(ctx, t)
		if err != nil {
			t.Close()
			lastErr = fmt.Errorf("%s %s: %w", t.Kind(), t.Endpoint(), err)
			entry.WithError(err).Warn("Транспорт не ответил на проверку.")
			if ctx.Err() != nil {
				return StateDisconnected
			}
			continue
		}

		m.active = t
		if m.lastBlock == 0 {
			m.lastBlock = head
		}
		m.update(func(s *ConnectionState) {
			s.Mode = t.Kind()
			s.Endpoint = t.Endpoint()
			s.LastBlock = m.lastBlock
		})
		entry.WithField("head", head).Info("Транспорт подключён.")
		return StateSubscribing
	}

	m.lastErr = fmt.Errorf("%w: %w", ErrNoTransport, lastErr)
	m.update(func(s *ConnectionState) { s.LastError = m.lastErr })
	if m.State().Sessions == 0 {
		m.logEntry().WithError(m.lastErr).Error("Не удалось установить первое подключение.")
		return StateFatal
	}
	return StateReconnecting
}

func (m *Manager) dialTransport(ctx context.Context, t Transport) (uint64, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	if err := t.Connect(dialCtx); err != nil {
		return 0, err
	}
	return t.BlockNumber(dialCtx)
}

func (m *Manager) subscribe(ctx context.Context) State {
	m.transition(StateSubscribing)

	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	m.logs = make(chan types.Log, 256)

	subCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	sub, err := m.active.SubscribeLogs(subCtx, PairCreatedQuery(m.opts.Factory, nil, nil), m.logs)
	if err != nil {
		m.lastErr = fmt.Errorf("подписка на PairCreated: %w", err)
		m.logEntry().WithError(err).Warn("Не удалось подписаться на события.")
		return StateDegraded
	}
	m.sub = sub
	m.backfill(ctx)

	m.update(func(s *ConnectionState) {
		s.ReconnectAttempts = 0
		s.Sessions++
		s.LastError = nil
	})
	m.transition(StateLive)
	m.logEntry().WithFields(logrus.Fields{
		"transport": m.active.Kind(),
		"factory":   m.opts.Factory.Hex(),
	}).Info("Подписка на новые пары активна.")
	return StateLive
}

// backfill replays PairCreated logs mined since the last processed block.
// Overlap with the live subscription is removed by pair deduplication.
func (m *Manager) backfill(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 2*m.opts.ConnectTimeout)
	defer cancel()

	head, err := m.active.BlockNumber(callCtx)
	if err != nil || head <= m.lastBlock {
		return
	}
	from := m.lastBlock
	if head-from > m.opts.BackfillBlocks {
		from = head - m.opts.BackfillBlocks
	}

	q := PairCreatedQuery(m.opts.Factory, new(big.Int).SetUint64(from), new(big.Int).SetUint64(head))
	logs, err := m.active.FilterLogs(callCtx, q)
	if err != nil {
		m.logEntry().WithError(err).Warn("Не удалось загрузить пропущенные события.")
		return
	}
	m.logEntry().WithFields(logrus.Fields{"from": from, "to": head, "logs": len(logs)}).Info("Пропущенные блоки догружены.")
	for _, lg := range logs {
		m.handleLog(ctx, lg)
	}
}

func (m *Manager) live(ctx context.Context, heartbeat <-chan time.Time) State {
	for {
		select {
		case <-ctx.Done():
			return StateDisconnected
		case lg := <-m.logs:
			m.handleLog(ctx, lg)
		case err := <-m.sub.Err():
			if err == nil {
				err = errors.New("подписка закрыта")
			}
			m.lastErr = err
			m.logEntry().WithError(err).Warn("Поток событий прерван.")
			return StateDegraded
		case <-heartbeat:
			st := m.State()
			m.logEntry().WithFields(logrus.Fields{
				"transport":  st.Mode,
				"last_block": st.LastBlock,
				"pairs_seen": len(m.seen),
				"uptime":     m.now().Sub(st.Since).Round(time.Second).String(),
			}).Info("Поток событий активен.")
		}
	}
}

func (m *Manager) degrade() State {
	m.transition(StateDegraded)
	m.update(func(s *ConnectionState) { s.LastError = m.lastErr })
	m.teardown()
	return StateReconnecting
}

func (m *Manager) reconnect(ctx context.Context) State {
	st := m.State()
	if st.ReconnectAttempts >= m.opts.MaxReconnectAttempts {
		m.lastErr = fmt.Errorf("%w (%d): %w", ErrAttempts, st.ReconnectAttempts, m.lastErr)
		return StateFatal
	}

	m.update(func(s *ConnectionState) { s.ReconnectAttempts++ })
	m.transition(StateReconnecting)
	m.logEntry().WithFields(logrus.Fields{
		"attempt": st.ReconnectAttempts + 1,
		"max":     m.opts.MaxReconnectAttempts,
		"delay":   m.opts.ReconnectDelay.String(),
	}).Warn("Переподключение к потоку событий.")

	timer := time.NewTimer(m.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return StateDisconnected
	case <-timer.C:
		return StateConnecting
	}
}

func (m *Manager) shutdown(ctx context.Context) error {
	m.transition(StateFatal)
	m.update(func(s *ConnectionState) { s.LastError = m.lastErr })
	m.teardown()
	m.logEntry().WithError(m.lastErr).Error("Поток событий потерян окончательно, завершение работы.")

	m.fatalOnce.Do(func() {
		if m.fatal != nil {
			m.fatal.HandleFatal(ctx, m.lastErr)
		}
	})
	return fmt.Errorf("%w: %w", ErrFatalShutdown, m.lastErr)
}

func (m *Manager) teardown() {
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
}

func (m *Manager) handleLog(ctx context.Context, lg types.Log) {
	if lg.Removed {
		return
	}
	if lg.BlockNumber > m.lastBlock {
		m.lastBlock = lg.BlockNumber
		m.update(func(s *ConnectionState) { s.LastBlock = lg.BlockNumber })
	}

	d, ok, err := NewDiscovery(lg, m.opts.BaseCurrency, m.now())
	if err != nil {
		m.logEntry().WithError(err).WithField("tx", lg.TxHash.Hex()).Debug("Пропущен лог фабрики.")
		return
	}
	if _, dup := m.seen[d.Pair]; dup {
		return
	}
	m.seen[d.Pair] = struct{}{}
	if !ok {
		m.logEntry().WithField("pair", d.Pair.Hex()).Debug("Пара без базового актива пропущена.")
		return
	}

	m.logEntry().WithFields(logrus.Fields{
		"asset": d.Asset.Hex(),
		"pair":  d.Pair.Hex(),
		"block": d.Block,
	}).Info("Новая пара с базовым активом.")
	select {
	case m.discoveries <- d:
	case <-ctx.Done():
	}
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state.State
	m.state.State = to
	m.state.Since = m.now()
	m.mu.Unlock()
	if from != to {
		m.logEntry().WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("Смена состояния подключения.")
	}
}

func (m *Manager) update(fn func(s *ConnectionState)) {
	m.mu.Lock()
	fn(&m.state)
	m.mu.Unlock()
}

func (m *Manager) logEntry() *logrus.Entry {
	return m.log.WithComponent("feed")
}
