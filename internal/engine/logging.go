package engine

import (
	"strconv"
	"strings"

	"snipebot/internal/models"

	"github.com/sirupsen/logrus"
)

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithComponent("engine")
}

func positionFields(p models.Position) logrus.Fields {
	return logrus.Fields{
		"asset":       p.Asset.Hex(),
		"pair":        p.Pair.Hex(),
		"entry_price": formatFloatPlain(p.EntryPrice),
		"remaining":   p.Remaining.String(),
		"partial":     p.PartialExited,
	}
}

func decisionFields(d models.ExitDecision) logrus.Fields {
	return logrus.Fields{
		"reason":   d.Reason,
		"price":    formatFloatPlain(d.ObservedPrice),
		"profit":   strconv.FormatFloat(d.ProfitPercent, 'f', 2, 64),
		"fraction": d.ExitFraction,
	}
}

func formatFloatPlain(val float64) string {
	formatted := strconv.FormatFloat(val, 'f', 12, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	if formatted == "" || formatted == "-0" {
		return "0"
	}
	return formatted
}
