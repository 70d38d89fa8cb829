package trader

import (
	"math"

	"mmbot/market"
)

// OrderTarget is one side of the quote the strategy wants resting.
// A zero Size means the side should not quote.
type OrderTarget struct {
	Price float64
	Size  float64
}

// Strategy chooses the next pair of quotes from the market state. The
// returned buy price must sit below last and the sell price above it;
// the engine trusts this to maintain the straddle invariant.
type Strategy interface {
	ComputeOrders(chart []market.ChartItem, last, spread, internalBalance float64, minfo market.MarketInfo) (buy, sell OrderTarget)
}

// SpreadStrategy quotes a symmetric band around the last price. The
// band width is the smoothed spread estimate, floored at MinSpread;
// sizes are fixed per side and a position cap silences the side that
// would grow the position past it.
type SpreadStrategy struct {
	OrderSize   float64
	MinSpread   float64
	MaxPosition float64
}

func (s SpreadStrategy) ComputeOrders(chart []market.ChartItem, last, spread, internalBalance float64, minfo market.MarketInfo) (buy, sell OrderTarget) {
	sp := spread
	if sp < s.MinSpread {
		sp = s.MinSpread
	}

	buy.Price = roundStep(last*(1-sp/2), minfo.StepPrice)
	sell.Price = roundStep(last*(1+sp/2), minfo.StepPrice)
	// Rounding must never collapse the straddle.
	if buy.Price >= last {
		buy.Price = last - minStep(minfo.StepPrice, last)
	}
	if sell.Price <= last {
		sell.Price = last + minStep(minfo.StepPrice, last)
	}

	buy.Size = clampSize(s.OrderSize, minfo)
	sell.Size = -clampSize(s.OrderSize, minfo)

	if s.MaxPosition > 0 {
		if internalBalance >= s.MaxPosition {
			buy.Size = 0
		}
		if internalBalance <= -s.MaxPosition {
			sell.Size = 0
		}
	}
	return buy, sell
}

func clampSize(size float64, minfo market.MarketInfo) float64 {
	if size <= 0 {
		return 0
	}
	if size < minfo.MinSize {
		size = minfo.MinSize
	}
	if minfo.StepSize > 0 {
		size = math.Floor(size/minfo.StepSize) * minfo.StepSize
		if size < minfo.MinSize {
			size = minfo.MinSize
		}
	}
	return size
}

func roundStep(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	return math.Round(price/step) * step
}

func minStep(step, last float64) float64 {
	if step > 0 {
		return step
	}
	return last * 1e-9
}
