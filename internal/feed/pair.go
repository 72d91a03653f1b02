package feed

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const factoryABIJSON = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"token0","type":"address"},
		{"indexed":true,"name":"token1","type":"address"},
		{"indexed":false,"name":"pair","type":"address"},
		{"indexed":false,"name":"index","type":"uint256"}
	],"name":"PairCreated","type":"event"}
]`

var (
	factoryABI       abi.ABI
	PairCreatedTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		panic(fmt.Sprintf("factory abi: %v", err))
	}
	factoryABI = parsed
	PairCreatedTopic = parsed.Events["PairCreated"].ID
}

// PairCreatedQuery filters PairCreated events of factory. Nil bounds are left
// out of the query.
func PairCreatedQuery(factory common.Address, from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{factory},
		Topics:    [][]common.Hash{{PairCreatedTopic}},
	}
}

// DecodePairCreated extracts token0, token1 and the pair address from a log.
func DecodePairCreated(lg types.Log) (token0, token1, pair common.Address, err error) {
	if len(lg.Topics) < 3 || lg.Topics[0] != PairCreatedTopic {
		return token0, token1, pair, fmt.Errorf("лог не является PairCreated")
	}
	vals, err := factoryABI.Unpack("PairCreated", lg.Data)
	if err != nil || len(vals) < 1 {
		return token0, token1, pair, fmt.Errorf("не удалось разобрать PairCreated: %v", err)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return token0, token1, pair, fmt.Errorf("неожиданный формат PairCreated")
	}
	return common.BytesToAddress(lg.Topics[1].Bytes()), common.BytesToAddress(lg.Topics[2].Bytes()), addr, nil
}

// NewDiscovery turns a PairCreated log into a Discovery of the non-base
// token. ok is false when neither side is the base currency.
func NewDiscovery(lg types.Log, base common.Address, seenAt time.Time) (d models.Discovery, ok bool, err error) {
	token0, token1, pair, err := DecodePairCreated(lg)
	if err != nil {
		return d, false, err
	}
	d = models.Discovery{
		Token0: token0,
		Token1: token1,
		Pair:   pair,
		Block:  lg.BlockNumber,
		TxHash: lg.TxHash,
		SeenAt: seenAt,
	}
	switch base {
	case token0:
		d.Asset = token1
	case token1:
		d.Asset = token0
	default:
		return d, false, nil
	}
	return d, true, nil
}
