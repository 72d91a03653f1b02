package feed

import (
	"context"
	"errors"
	"time"

	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrFatalShutdown = errors.New("фатальная ошибка подключения к потоку событий")
	ErrNoTransport   = errors.New("ни один транспорт не ответил")
	ErrAttempts      = errors.New("исчерпаны попытки переподключения")
)

// Transport is one way of reaching the chain's log stream. The context passed
// to Connect and SubscribeLogs bounds only the call itself, not the lifetime
// of the connection or subscription.
type Transport interface {
	Kind() models.TransportKind
	Endpoint() string
	Connect(ctx context.Context) error
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// FatalHandler is invoked once when the manager gives up.
type FatalHandler interface {
	HandleFatal(ctx context.Context, cause error)
}

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateLive
	StateDegraded
	StateReconnecting
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ConnectionState is a snapshot of the manager's connection.
type ConnectionState struct {
	State             State
	Mode              models.TransportKind
	Endpoint          string
	ReconnectAttempts int
	Sessions          int
	LastBlock         uint64
	LastError         error
	Since             time.Time
}
