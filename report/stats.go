package report

import (
	"mmbot/market"
	"mmbot/sched"
	"mmbot/trader"
)

// Stats2Report is the per-trader stats sink. Everything it does is
// deferred through the action queue so a cycle never waits for report
// rendering or spread statistics.
type Stats2Report struct {
	ident string
	rpt   *Report
	queue *sched.ActionQueue
}

func NewStats2Report(ident string, rpt *Report, queue *sched.ActionQueue) *Stats2Report {
	return &Stats2Report{ident: ident, rpt: rpt, queue: queue}
}

func (s *Stats2Report) ReportCycle(snap trader.Snapshot) {
	s.queue.Push(func() {
		s.rpt.SetTrader(snap)
	})
}

func (s *Stats2Report) CalcSpread(chart []market.ChartItem, prev float64, cb func(float64)) {
	s.queue.Push(func() {
		cb(SmoothSpread(chart, prev))
	})
}

// smoothing factor for the per-sample relative band
const spreadAlpha = 0.15

// SmoothSpread folds the chart's relative bid/ask band into an
// exponential moving average seeded with the previous estimate. Pure
// and deterministic, so backtests replay identically.
func SmoothSpread(chart []market.ChartItem, prev float64) float64 {
	ema := prev
	for _, c := range chart {
		if c.Last <= 0 || c.Ask < c.Bid {
			continue
		}
		rel := (c.Ask - c.Bid) / c.Last
		if ema <= 0 {
			ema = rel
			continue
		}
		ema += spreadAlpha * (rel - ema)
	}
	return ema
}
