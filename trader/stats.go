package trader

import "mmbot/market"

// Snapshot is the per-cycle summary handed to the stats sink at commit.
type Snapshot struct {
	Ident           string         `json:"ident"`
	Title           string         `json:"title"`
	Time            int64          `json:"time"`
	Last            float64        `json:"last"`
	InternalBalance float64        `json:"internal_balance"`
	Currency        float64        `json:"currency"`
	LastSpread      float64        `json:"last_spread"`
	TradeCount      int            `json:"trade_count"`
	OpenBuy         *market.Order  `json:"open_buy,omitempty"`
	OpenSell        *market.Order  `json:"open_sell,omitempty"`
	NewTrades       []market.Trade `json:"-"`
}

// StatsSink receives per-cycle summaries. Implementations defer the
// heavy work (report rendering, spread statistics) off the trading
// path; callbacks they invoke run on the scheduler worker.
type StatsSink interface {
	// ReportCycle is called once per committed cycle.
	ReportCycle(s Snapshot)

	// CalcSpread recomputes the smoothed spread from the chart and
	// delivers it through cb. Invoked every SpreadCalcInterval cycles.
	CalcSpread(chart []market.ChartItem, prev float64, cb func(float64))
}

// NopStats discards everything; used by backtests that only need the
// final journal.
type NopStats struct{}

func (NopStats) ReportCycle(Snapshot) {}
func (NopStats) CalcSpread(chart []market.ChartItem, prev float64, cb func(float64)) {}
