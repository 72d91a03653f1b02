package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snipebot/internal/feed"
	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	readLimit    = 8 << 20
	writeTimeout = 10 * time.Second

	defaultPingPeriod = 20 * time.Second
	defaultPongWait   = 60 * time.Second
)

var _ feed.Transport = (*Client)(nil)

var (
	errNotConnected = errors.New("WS не подключён")
	errClosed       = errors.New("WS соединение закрыто")
)

func New(url string, log *logger.Logger) *Client {
	return &Client{
		url: url,
		log: log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            websocket.DefaultDialer.Proxy,
		},
		pingPeriod: defaultPingPeriod,
		pongWait:   defaultPongWait,
	}
}

func (c *Client) Kind() models.TransportKind {
	return models.TransportWebSocket
}

func (c *Client) Endpoint() string {
	return c.url
}

// Connect dials a fresh connection, replacing any previous one.
func (c *Client) Connect(ctx context.Context) error {
	c.logEntry().Info("Подключение к WS.")

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("Не удалось подключиться к WS: %w", err)
	}
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	s := &session{
		conn:    conn,
		pending: make(map[uint64]chan Message),
		subs:    make(map[string]*subscription),
		done:    make(chan struct{}),
	}
	c.mu.Lock()
	old := c.session
	c.session = s
	c.mu.Unlock()
	if old != nil {
		old.close(errClosed)
	}

	go c.readLoop(s)
	go c.pingLoop(s)
	c.logEntry().Info("WS соединение установлено.")
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s != nil {
		s.close(errClosed)
	}
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := c.call(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(head), nil
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	if err := c.call(ctx, &logs, "eth_getLogs", toFilterArg(q)); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) logEntry() *logrus.Entry {
	return c.log.WithComponent("ws").WithField("url", c.url)
}
