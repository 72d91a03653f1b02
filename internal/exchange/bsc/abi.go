package bsc

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	pairABI   abi.ABI
	sniperABI abi.ABI
)

func init() {
	var err error

	pairABI, err = abi.JSON(strings.NewReader(`[
		{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[
			{"name":"reserve0","type":"uint112"},
			{"name":"reserve1","type":"uint112"},
			{"name":"blockTimestampLast","type":"uint32"}
		]}
	]`))
	if err != nil {
		panic("pair abi parse: " + err.Error())
	}

	sniperABI, err = abi.JSON(strings.NewReader(`[
		{"name":"sellTokens","type":"function","stateMutability":"nonpayable","inputs":[
			{"name":"token","type":"address"},
			{"name":"amountIn","type":"uint256"},
			{"name":"amountOutMin","type":"uint256"},
			{"name":"deadline","type":"uint256"}
		],"outputs":[]},
		{"name":"snipeWithTaxCheck","type":"function","stateMutability":"payable","inputs":[
			{"name":"token","type":"address"},
			{"name":"amountOutMin","type":"uint256"},
			{"name":"maxTaxPercent","type":"uint256"},
			{"name":"deadline","type":"uint256"}
		],"outputs":[]},
		{"name":"getTokenBalance","type":"function","stateMutability":"view","inputs":[
			{"name":"token","type":"address"}
		],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"withdrawToken","type":"function","stateMutability":"nonpayable","inputs":[
			{"name":"token","type":"address"}
		],"outputs":[]},
		{"name":"emergencyWithdrawBNB","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"name":"Sold","type":"event","anonymous":false,"inputs":[
			{"name":"token","type":"address","indexed":true},
			{"name":"amountIn","type":"uint256","indexed":false},
			{"name":"bnbOut","type":"uint256","indexed":false}
		]}
	]`))
	if err != nil {
		panic("sniper abi parse: " + err.Error())
	}
}
