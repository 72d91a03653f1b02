package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"snipebot/internal/config"
	"snipebot/internal/exchange"
	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	wbnb   = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	assetA = common.HexToAddress("0x000000000000000000000000000000000000a001")
	pairA  = common.HexToAddress("0x000000000000000000000000000000000000b001")
	assetB = common.HexToAddress("0x000000000000000000000000000000000000a002")
	pairB  = common.HexToAddress("0x000000000000000000000000000000000000b002")

	errRPC = errors.New("rpc: connection refused")
)

// fakeChain implements exchange.Client in memory.
type fakeChain struct {
	mu sync.Mutex

	reserves   map[common.Address]exchange.Reserves
	reserveErr map[common.Address]error
	block      chan struct{}
	started    chan struct{}

	balances   map[common.Address]*big.Int
	balanceErr error

	sellErr    error
	sellStatus exchange.ReceiptStatus
	proceeds   *big.Int
	sells      []exchange.SellRequest
	sellHang   bool

	buyErr      error
	buyStatus   exchange.ReceiptStatus
	buyReceived *big.Int
	buyBlock    chan struct{}
	buyStarted  chan struct{}
	buys        []exchange.BuyRequest

	gasPrice  *big.Int
	withdraws int
	swept     []common.Address
}

var _ exchange.Client = (*fakeChain)(nil)

func newFakeChain() *fakeChain {
	return &fakeChain{
		reserves:   make(map[common.Address]exchange.Reserves),
		reserveErr: make(map[common.Address]error),
		balances:   make(map[common.Address]*big.Int),
		sellStatus: exchange.ReceiptSuccess,
		buyStatus:  exchange.ReceiptSuccess,
		gasPrice:   big.NewInt(5_000_000_000),
	}
}

// setPrice puts baseLiquidity of base currency against baseLiquidity/rate of
// the asset into pair, with the asset in slot 0.
func (f *fakeChain) setPrice(pair, asset common.Address, rate, baseLiquidity float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves[pair] = exchange.Reserves{
		Token0:   asset,
		Reserve0: FromBase(baseLiquidity / rate),
		Token1:   wbnb,
		Reserve1: FromBase(baseLiquidity),
	}
}

func (f *fakeChain) setBalance(asset common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[asset] = new(big.Int).Set(amount)
}

func (f *fakeChain) QueryReserves(ctx context.Context, pair common.Address) (exchange.Reserves, error) {
	if f.block != nil {
		if f.started != nil {
			select {
			case f.started <- struct{}{}:
			default:
			}
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return exchange.Reserves{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reserveErr[pair]; err != nil {
		return exchange.Reserves{}, err
	}
	res, ok := f.reserves[pair]
	if !ok {
		return exchange.Reserves{}, errRPC
	}
	return res, nil
}

func (f *fakeChain) BalanceHeld(_ context.Context, asset common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if bal, ok := f.balances[asset]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) Sell(ctx context.Context, req exchange.SellRequest) (*exchange.Receipt, error) {
	if f.sellHang {
		<-ctx.Done()
		return nil, exchange.NewError(exchange.KindTransient, "sell", ctx.Err())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, req)
	if f.sellErr != nil {
		return nil, f.sellErr
	}
	r := &exchange.Receipt{
		TxHash:      common.BigToHash(big.NewInt(int64(len(f.sells)))),
		Status:      f.sellStatus,
		BlockNumber: 100 + uint64(len(f.sells)),
	}
	if f.sellStatus == exchange.ReceiptSuccess {
		r.Proceeds = f.proceeds
		if bal, ok := f.balances[req.Asset]; ok {
			bal.Sub(bal, req.Amount)
		}
	}
	return r, nil
}

func (f *fakeChain) Buy(ctx context.Context, req exchange.BuyRequest) (*exchange.Receipt, error) {
	if f.buyBlock != nil {
		if f.buyStarted != nil {
			f.buyStarted <- struct{}{}
		}
		select {
		case <-f.buyBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, req)
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	r := &exchange.Receipt{
		TxHash:      common.BigToHash(big.NewInt(int64(1000 + len(f.buys)))),
		Status:      f.buyStatus,
		BlockNumber: 50,
	}
	if f.buyStatus == exchange.ReceiptSuccess && f.buyReceived != nil {
		bal, ok := f.balances[req.Asset]
		if !ok {
			bal = new(big.Int)
			f.balances[req.Asset] = bal
		}
		bal.Add(bal, f.buyReceived)
	}
	return r, nil
}

func (f *fakeChain) WithdrawAsset(_ context.Context, asset common.Address) (*exchange.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept = append(f.swept, asset)
	return &exchange.Receipt{Status: exchange.ReceiptSuccess, TxHash: common.HexToHash("0xbeef")}, nil
}

func (f *fakeChain) WithdrawBaseCurrency(context.Context) (*exchange.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdraws++
	return &exchange.Receipt{Status: exchange.ReceiptSuccess, TxHash: common.HexToHash("0xdead")}, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) sellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sells)
}

func (f *fakeChain) buyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buys)
}

func testExitConfig() config.ExitConfig {
	return config.ExitConfig{
		TakeProfitPercent:       100,
		StopLossPercent:         -50,
		MaxHoldDuration:         time.Hour,
		MaxSellTaxPercent:       15,
		MinLiquidityForExit:     0.5,
		CheckIntervalSeconds:    30,
		EnablePartialExits:      true,
		PartialExitFraction:     0.5,
		TrailingStopDropPercent: 30,
		SellDeadlineSeconds:     300,
		PriceTimeout:            time.Second,
	}
}

func testPosition(asset, pair common.Address, entryPrice float64, tokens float64, entry time.Time) models.Position {
	return models.Position{
		Asset:       asset,
		Pair:        pair,
		EntryPrice:  entryPrice,
		EntryAmount: FromBase(tokens),
		EntryCost:   decimal.NewFromFloat(entryPrice * tokens),
		EntryTime:   entry,
	}
}

type harness struct {
	chain    *fakeChain
	store    *Store
	history  *History
	oracle   *Oracle
	executor *Executor
	monitor  *Monitor
	now      time.Time
}

func newHarness(t *testing.T, cfg config.ExitConfig) *harness {
	t.Helper()
	log := logger.Discard()
	h := &harness{
		chain:   newFakeChain(),
		store:   NewStore(),
		history: NewHistory(),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.oracle = NewOracle(h.chain, wbnb, cfg.PriceTimeout)
	h.oracle.now = clock
	h.executor = NewExecutor(h.chain, h.store, h.history, cfg, log)
	h.executor.now = clock
	h.executor.retryBackoff = time.Millisecond
	h.monitor = NewMonitor(cfg, h.store, h.oracle, h.executor, h.history, log)
	h.monitor.now = clock
	return h
}

// hold registers a position and credits its tokens to the contract.
func (h *harness) hold(t *testing.T, p models.Position) {
	t.Helper()
	if err := h.store.Add(p); err != nil {
		t.Fatalf("add position: %v", err)
	}
	h.chain.setBalance(p.Asset, p.EntryAmount)
}
