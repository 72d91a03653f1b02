package engine

import (
	"math/big"
	"sync"

	"snipebot/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// History is the append-only list of settled sells.
type History struct {
	mu      sync.RWMutex
	records []models.SellRecord
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Append(r models.SellRecord) models.SellRecord {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.AmountSold != nil {
		r.AmountSold = new(big.Int).Set(r.AmountSold)
	}

	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return r
}

func (h *History) Records() []models.SellRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.SellRecord, len(h.records))
	copy(out, h.records)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Summary aggregates realized results. A break-even sell counts as a loss.
// HeldCount is left to the caller.
func (h *History) Summary() models.Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sum := models.Summary{TotalProfit: decimal.Zero}
	for _, r := range h.records {
		sum.TotalSells++
		sum.TotalProfit = sum.TotalProfit.Add(r.RealizedProfit)
		if r.RealizedProfit.IsPositive() {
			sum.ProfitableSells++
		}
	}
	sum.LossSells = sum.TotalSells - sum.ProfitableSells
	if sum.TotalSells > 0 {
		sum.WinRate = float64(sum.ProfitableSells) / float64(sum.TotalSells) * 100
	}
	return sum
}
