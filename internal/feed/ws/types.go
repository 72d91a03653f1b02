package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"snipebot/internal/logger"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
)

type Client struct {
	url    string
	log    *logger.Logger
	dialer *websocket.Dialer

	pingPeriod time.Duration
	pongWait   time.Duration

	nextID atomic.Uint64

	mu      sync.Mutex
	session *session
}

// session is one websocket connection with its in-flight calls and subscriptions.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan Message
	subs    map[string]*subscription

	done chan struct{}
	once sync.Once
	err  error
}

type subscription struct {
	client  *Client
	session *session
	id      string
	ch      chan<- types.Log
	errCh   chan error
	quit    chan struct{}

	mu     sync.Mutex
	failed bool
	closed bool
}

type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Params  *Notification   `json:"params,omitempty"`
}

type Notification struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %d: %s", e.Code, e.Message)
}

func (e *RPCError) ErrorCode() int {
	return e.Code
}
