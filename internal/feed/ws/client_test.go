package ws

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var factory = common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73")

func testLog(block uint64) types.Log {
	return types.Log{
		Address:     factory,
		Topics:      []common.Hash{common.HexToHash("0x01")},
		Data:        []byte{0x01},
		BlockNumber: block,
		TxHash:      common.HexToHash("0xaa"),
		BlockHash:   common.HexToHash("0xbb"),
	}
}

// rpcServer is a minimal JSON-RPC node speaking over websocket.
type rpcServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	methods  []string
	subReady chan struct{}

	// silent stops reading after eth_subscribe, so pings go unanswered.
	silent  bool
	release chan struct{}
}

func newRPCServer(t *testing.T, opts ...func(*rpcServer)) (*rpcServer, *httptest.Server) {
	s := &rpcServer{t: t, subReady: make(chan struct{}, 1), release: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(s.release) })
	return s, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *rpcServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		s.mu.Lock()
		s.methods = append(s.methods, req.Method)
		s.mu.Unlock()

		var result interface{}
		switch req.Method {
		case "eth_blockNumber":
			result = "0x10"
		case "eth_getLogs":
			result = []types.Log{testLog(15), testLog(16)}
		case "eth_subscribe":
			result = "0xsub"
		case "eth_unsubscribe":
			result = true
		default:
			s.reply(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
			})
			continue
		}
		s.reply(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
		if req.Method == "eth_subscribe" {
			s.subReady <- struct{}{}
			if s.silent {
				<-s.release
				return
			}
		}
	}
}

func (s *rpcServer) reply(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NoError(s.t, s.conn.WriteJSON(v))
}

func (s *rpcServer) notify(lg types.Log) {
	raw, err := json.Marshal(lg)
	require.NoError(s.t, err)
	s.reply(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params":  map[string]interface{}{"subscription": "0xsub", "result": json.RawMessage(raw)},
	})
}

func (s *rpcServer) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}

func (s *rpcServer) called(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.methods {
		if m == method {
			return true
		}
	}
	return false
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	c := New(url, logger.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)
	return c
}

func TestClient_Calls(t *testing.T) {
	_, srv := newRPCServer(t)
	c := connect(t, wsURL(srv))

	assert.Equal(t, models.TransportWebSocket, c.Kind())
	assert.Equal(t, wsURL(srv), c.Endpoint())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	head, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), head)

	logs, err := c.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(10),
		ToBlock:   big.NewInt(16),
		Addresses: []common.Address{factory},
	})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, uint64(15), logs[0].BlockNumber)
	assert.Equal(t, factory, logs[1].Address)
}

func TestClient_RPCError(t *testing.T) {
	_, srv := newRPCServer(t)
	c := connect(t, wsURL(srv))

	err := c.call(context.Background(), nil, "eth_unknown")
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.ErrorCode())
}

func TestClient_NotConnected(t *testing.T) {
	c := New("ws://127.0.0.1:1", logger.Discard())
	_, err := c.BlockNumber(context.Background())
	assert.ErrorIs(t, err, errNotConnected)
}

func TestSubscribeLogs_DeliversAndUnsubscribes(t *testing.T) {
	s, srv := newRPCServer(t)
	c := connect(t, wsURL(srv))

	ch := make(chan types.Log, 4)
	sub, err := c.SubscribeLogs(context.Background(), ethereum.FilterQuery{Addresses: []common.Address{factory}}, ch)
	require.NoError(t, err)
	<-s.subReady

	s.notify(testLog(42))
	select {
	case lg := <-ch:
		assert.Equal(t, uint64(42), lg.BlockNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("лог не доставлен")
	}

	sub.Unsubscribe()
	_, open := <-sub.Err()
	assert.False(t, open)
	assert.True(t, s.called("eth_unsubscribe"))

	sub.Unsubscribe()
}

func TestSubscribeLogs_ConnectionLossReported(t *testing.T) {
	s, srv := newRPCServer(t)
	c := connect(t, wsURL(srv))

	sub, err := c.SubscribeLogs(context.Background(), ethereum.FilterQuery{}, make(chan types.Log, 1))
	require.NoError(t, err)
	<-s.subReady

	s.drop()
	select {
	case err := <-sub.Err():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("обрыв соединения не сообщён")
	}
	sub.Unsubscribe()

	_, err = c.BlockNumber(context.Background())
	assert.Error(t, err)
}

func TestToFilterArg(t *testing.T) {
	arg := toFilterArg(ethereum.FilterQuery{
		FromBlock: big.NewInt(16),
		ToBlock:   big.NewInt(32),
		Addresses: []common.Address{factory},
	})
	assert.Equal(t, "0x10", arg["fromBlock"])
	assert.Equal(t, "0x20", arg["toBlock"])

	hash := common.HexToHash("0x01")
	arg = toFilterArg(ethereum.FilterQuery{BlockHash: &hash, FromBlock: big.NewInt(1)})
	assert.Equal(t, hash, arg["blockHash"])
	_, ok := arg["fromBlock"]
	assert.False(t, ok)
}

func TestClient_SilentPeerClosesSession(t *testing.T) {
	s, srv := newRPCServer(t, func(s *rpcServer) { s.silent = true })

	c := New(wsURL(srv), logger.Discard())
	c.pingPeriod = 20 * time.Millisecond
	c.pongWait = 100 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)

	sub, err := c.SubscribeLogs(ctx, ethereum.FilterQuery{}, make(chan types.Log, 1))
	require.NoError(t, err)
	<-s.subReady
	defer sub.Unsubscribe()

	select {
	case err := <-sub.Err():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("молчащий узел не обнаружен")
	}
}

func TestClient_PongsKeepSessionAlive(t *testing.T) {
	s, srv := newRPCServer(t)

	c := New(wsURL(srv), logger.Discard())
	c.pingPeriod = 20 * time.Millisecond
	c.pongWait = 100 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)

	sub, err := c.SubscribeLogs(ctx, ethereum.FilterQuery{}, make(chan types.Log, 1))
	require.NoError(t, err)
	<-s.subReady
	defer sub.Unsubscribe()

	select {
	case err := <-sub.Err():
		t.Fatalf("сессия закрыта: %v", err)
	case <-time.After(400 * time.Millisecond):
	}
	head, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), head)
}
