package pricing

import (
	"github.com/shopspring/decimal"
)

// MinSats is the floor applied to every computed amount.
const MinSats = 1

var (
	// DefaultMarkup is added on top of the upstream per-unit cost.
	DefaultMarkup = decimal.RequireFromString("0.25")

	satsPerBTC = decimal.NewFromInt(100_000_000)
)

type Pricing struct {
	UnitCount   int             `json:"num_outputs"`
	UnitCostUSD decimal.Decimal `json:"unit_cost_usd"`
	MarkupPct   decimal.Decimal `json:"markup_pct"`
	TotalUSD    decimal.Decimal `json:"total_usd"`
	USDPerBTC   decimal.Decimal `json:"btc_price_usd"`
	TotalSats   int64           `json:"total_sats"`
}

// Calculate prices unitCount units at unitCostUSD each plus DefaultMarkup,
// converted to satoshis at usdPerBTC. Degenerate inputs clamp to MinSats.
func Calculate(unitCount int, unitCostUSD, usdPerBTC decimal.Decimal) Pricing {
	return CalculateWithMarkup(unitCount, unitCostUSD, DefaultMarkup, usdPerBTC)
}

func CalculateWithMarkup(unitCount int, unitCostUSD, markup, usdPerBTC decimal.Decimal) Pricing {
	if unitCount < 1 {
		unitCount = 1
	}

	total := unitCostUSD.
		Mul(decimal.NewFromInt(int64(unitCount))).
		Mul(decimal.NewFromInt(1).Add(markup))

	p := Pricing{
		UnitCount:   unitCount,
		UnitCostUSD: unitCostUSD,
		MarkupPct:   markup.Mul(decimal.NewFromInt(100)),
		TotalUSD:    total,
		USDPerBTC:   usdPerBTC,
		TotalSats:   MinSats,
	}

	if !usdPerBTC.IsPositive() {
		return p
	}

	sats := total.Mul(satsPerBTC).Div(usdPerBTC).Floor().IntPart()
	if sats > MinSats {
		p.TotalSats = sats
	}

	return p
}
