package bsc

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"snipebot/internal/exchange"
	"snipebot/internal/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Backend is the subset of *ethclient.Client the adapter needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Options struct {
	ChainID           int64
	Sniper            common.Address
	PrivateKey        string
	GasLimit          uint64
	SettlementTimeout time.Duration
	// SubmitTimeout bounds nonce, gas and send calls before a transaction is
	// on the wire. CallTimeout bounds each read-only contract call.
	SubmitTimeout time.Duration
	CallTimeout   time.Duration
	RatePerSecond float64
	ReceiptPoll   time.Duration
}

type Client struct {
	backend Backend
	closeFn func()

	chainID *big.Int
	sniper  common.Address
	key     *ecdsa.PrivateKey
	address common.Address

	gasLimit          uint64
	settlementTimeout time.Duration
	submitTimeout     time.Duration
	callTimeout       time.Duration
	receiptPoll       time.Duration
	limiter           *rate.Limiter

	log *logger.Logger
}

var _ exchange.Client = (*Client)(nil)

// Dial connects to the first reachable HTTP endpoint.
func Dial(ctx context.Context, endpoints []string, opts Options, log *logger.Logger) (*Client, error) {
	var lastErr error
	for _, url := range endpoints {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ec, err := ethclient.DialContext(dialCtx, url)
		if err == nil {
			_, err = ec.ChainID(dialCtx)
		}
		cancel()
		if err != nil {
			lastErr = err
			log.WithComponent("bsc").WithField("url", url).WithError(err).Warn("RPC недоступен.")
			if ec != nil {
				ec.Close()
			}
			continue
		}
		c, err := New(ec, opts, log)
		if err != nil {
			ec.Close()
			return nil, err
		}
		c.closeFn = ec.Close
		log.WithComponent("bsc").WithField("url", url).Info("Подключение к RPC для торговли установлено.")
		return c, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("список endpoint пуст")
	}
	return nil, fmt.Errorf("не удалось подключиться ни к одному RPC: %w", lastErr)
}

func New(backend Backend, opts Options, log *logger.Logger) (*Client, error) {
	c := &Client{
		backend:           backend,
		chainID:           big.NewInt(opts.ChainID),
		sniper:            opts.Sniper,
		gasLimit:          opts.GasLimit,
		settlementTimeout: opts.SettlementTimeout,
		submitTimeout:     opts.SubmitTimeout,
		callTimeout:       opts.CallTimeout,
		receiptPoll:       opts.ReceiptPoll,
		log:               log,
	}
	if c.gasLimit == 0 {
		c.gasLimit = 800_000
	}
	if c.settlementTimeout <= 0 {
		c.settlementTimeout = 60 * time.Second
	}
	if c.submitTimeout <= 0 {
		c.submitTimeout = 15 * time.Second
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 10 * time.Second
	}
	if c.receiptPoll <= 0 {
		c.receiptPoll = 3 * time.Second
	}
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), int(opts.RatePerSecond)+1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	if opts.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(opts.PrivateKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("некорректный приватный ключ: %w", err)
		}
		c.key = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, exchange.NewError(exchange.KindTransient, "gas_price", err)
	}
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, exchange.Classify("gas_price", err)
	}
	return price, nil
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (c *Client) logEntry() *logrus.Entry {
	return c.log.WithComponent("bsc").WithField("sniper", c.sniper.Hex())
}
