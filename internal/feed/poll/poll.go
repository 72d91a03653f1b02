package poll

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"snipebot/internal/feed"
	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const maxPollErrors = 3

var errNotConnected = errors.New("HTTP RPC не подключён")

var _ feed.Transport = (*Transport)(nil)

// Backend is the subset of *ethclient.Client used for polling.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

type dialFunc func(ctx context.Context, url string) (Backend, error)

// Transport emulates a log subscription by polling eth_getLogs over HTTP.
type Transport struct {
	url      string
	interval time.Duration
	limiter  *rate.Limiter
	log      *logger.Logger
	dial     dialFunc

	mu      sync.Mutex
	backend Backend
}

func New(url string, interval time.Duration, ratePerSecond float64, log *logger.Logger) *Transport {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1)
	}
	return &Transport{
		url:      url,
		interval: interval,
		limiter:  limiter,
		log:      log,
		dial: func(ctx context.Context, url string) (Backend, error) {
			return ethclient.DialContext(ctx, url)
		},
	}
}

func (t *Transport) Kind() models.TransportKind {
	return models.TransportPolling
}

func (t *Transport) Endpoint() string {
	return t.url
}

func (t *Transport) Connect(ctx context.Context) error {
	b, err := t.dial(ctx, t.url)
	if err != nil {
		return fmt.Errorf("Не удалось подключиться к HTTP RPC: %w", err)
	}
	t.mu.Lock()
	old := t.backend
	t.backend = b
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	b := t.backend
	t.backend = nil
	t.mu.Unlock()
	if b != nil {
		b.Close()
	}
}

func (t *Transport) BlockNumber(ctx context.Context) (uint64, error) {
	b, err := t.current(ctx)
	if err != nil {
		return 0, err
	}
	return b.BlockNumber(ctx)
}

func (t *Transport) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b, err := t.current(ctx)
	if err != nil {
		return nil, err
	}
	return b.FilterLogs(ctx, q)
}

// SubscribeLogs polls for logs matching q in blocks after the current head.
// The subscription fails after maxPollErrors consecutive RPC errors.
func (t *Transport) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	head, err := t.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить текущий блок: %w", err)
	}

	t.logEntry().WithFields(logrus.Fields{
		"from":     head + 1,
		"interval": t.interval.String(),
	}).Info("Опрос логов через HTTP запущен.")

	return event.NewSubscription(func(quit <-chan struct{}) error {
		return t.pollLoop(quit, q, head+1, ch)
	}), nil
}

func (t *Transport) pollLoop(quit <-chan struct{}, q ethereum.FilterQuery, next uint64, ch chan<- types.Log) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-quit:
			return nil
		case <-ticker.C:
		}

		logs, head, err := t.poll(ctx, q, next)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			t.logEntry().WithError(err).WithField("failures", failures).Warn("Ошибка опроса логов.")
			if failures >= maxPollErrors {
				return fmt.Errorf("опрос логов прекращён после %d ошибок подряд: %w", failures, err)
			}
			continue
		}
		failures = 0

		for _, lg := range logs {
			select {
			case ch <- lg:
			case <-quit:
				return nil
			}
		}
		if head >= next {
			next = head + 1
		}
	}
}

func (t *Transport) poll(ctx context.Context, q ethereum.FilterQuery, from uint64) ([]types.Log, uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, 2*t.interval+5*time.Second)
	defer cancel()

	head, err := t.BlockNumber(callCtx)
	if err != nil {
		return nil, 0, err
	}
	if head < from {
		return nil, head, nil
	}
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(head)
	q.BlockHash = nil
	logs, err := t.FilterLogs(callCtx, q)
	if err != nil {
		return nil, 0, err
	}
	return logs, head, nil
}

func (t *Transport) current(ctx context.Context) (Backend, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend == nil {
		return nil, errNotConnected
	}
	return t.backend, nil
}

func (t *Transport) logEntry() *logrus.Entry {
	return t.log.WithComponent("poll").WithField("url", t.url)
}
