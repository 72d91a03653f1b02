package report

import (
	"bytes"
	"math/big"
	"testing"

	"snipebot/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	asset := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	var buf bytes.Buffer

	err := Write(&buf,
		models.Summary{TotalSells: 1, ProfitableSells: 1, WinRate: 100, TotalProfit: decimal.RequireFromString("0.05"), HeldCount: 1},
		[]models.SellRecord{{
			Asset:          asset,
			Reason:         models.ExitReasonTakeProfit,
			Fraction:       0.5,
			EntryPrice:     1e-6,
			ExitPrice:      2e-6,
			ProfitPercent:  100,
			RealizedProfit: decimal.RequireFromString("0.05"),
		}},
		[]models.Position{{Asset: asset, EntryPrice: 1e-6, Remaining: big.NewInt(500), PartialExited: true}},
	)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Продаж: 1")
	assert.Contains(t, out, "0.050000")
	assert.Contains(t, out, string(models.ExitReasonTakeProfit))
	assert.Contains(t, out, "+100.00")
	assert.Contains(t, out, "Открытые позиции")
	assert.Contains(t, out, "500")
}

func TestWrite_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, models.Summary{TotalProfit: decimal.Zero}, nil, nil))
	assert.Contains(t, buf.String(), "Продаж: 0")
	assert.NotContains(t, buf.String(), "Открытые позиции")
}

func TestShort(t *testing.T) {
	assert.Equal(t, "0x000000…00aa", short("0x00000000000000000000000000000000000000aa"))
	assert.Equal(t, "0xabc", short("0xabc"))
}
