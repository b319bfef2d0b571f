package market

import (
	"sort"

	"github.com/rickgao/coinfeed/internal/model"
)

// DefaultSupply is the circulating supply assumed for symbols with no estimate.
const DefaultSupply = 100_000_000

// Supply maps symbols to estimated circulating supply.
type Supply map[model.Symbol]float64

// Of returns the supply estimate for sym, or DefaultSupply.
func (s Supply) Of(sym model.Symbol) float64 {
	if v, ok := s[sym]; ok && v > 0 {
		return v
	}
	return DefaultSupply
}

// MarketCap approximates market capitalization as price times supply.
func MarketCap(e model.Entry, supply Supply) float64 {
	return e.Price * supply.Of(e.Symbol)
}

// Aggregate holds totals across a set of entries, in quote units.
type Aggregate struct {
	Count       int     `json:"count"`
	QuoteVolume float64 `json:"quote_volume"`
	MarketCap   float64 `json:"market_cap"`
}

// Totals sums quote volumes and approximate market caps.
func Totals(entries []model.Entry, supply Supply) Aggregate {
	var a Aggregate
	for _, e := range entries {
		a.Count++
		a.QuoteVolume += e.QuoteVolume
		a.MarketCap += MarketCap(e, supply)
	}
	return a
}

// TopMovers returns up to n entries ordered by change percent, highest first.
// Ties keep their input order.
func TopMovers(entries []model.Entry, n int) []model.Entry {
	if n <= 0 || len(entries) == 0 {
		return nil
	}

	sorted := make([]model.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ChangePercent > sorted[j].ChangePercent
	})

	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// Dominance returns the market cap share of sym in percent. ok is false when
// sym has no entry or the total market cap is zero.
func Dominance(entries []model.Entry, sym model.Symbol, supply Supply) (pct float64, ok bool) {
	var total, own float64
	found := false
	for _, e := range entries {
		mc := MarketCap(e, supply)
		total += mc
		if e.Symbol == sym {
			own = mc
			found = true
		}
	}
	if !found || total <= 0 {
		return 0, false
	}
	return own / total * 100, true
}

// ToFiat returns a copy of e with prices, quote volume and history multiplied
// by rate. Base volume and change percent are unit-free and kept as is.
func ToFiat(e model.Entry, rate float64) model.Entry {
	out := e.Clone()
	out.Price *= rate
	out.OpenPrice *= rate
	out.High *= rate
	out.Low *= rate
	out.QuoteVolume *= rate
	for i := range out.History {
		out.History[i] *= rate
	}
	return out
}

// Summary is the derived market overview.
type Summary struct {
	Totals         Aggregate     `json:"totals"`
	TopMovers      []model.Entry `json:"top_movers"`
	DominantSymbol model.Symbol  `json:"dominant_symbol"`
	Dominance      float64       `json:"dominance"`
	HasDominance   bool          `json:"has_dominance"`
}

// Summarize derives a Summary from one SnapshotAll result.
func Summarize(entries []model.Entry, supply Supply, dominant model.Symbol, top int) Summary {
	d, ok := Dominance(entries, dominant, supply)
	return Summary{
		Totals:         Totals(entries, supply),
		TopMovers:      TopMovers(entries, top),
		DominantSymbol: dominant,
		Dominance:      d,
		HasDominance:   ok,
	}
}
