package market

// MarketInfo describes one tradable pair as reported by the exchange.
// It is refreshed at the start of every trading cycle and treated as
// immutable for the rest of the cycle.
type MarketInfo struct {
	AssetSymbol    string  `json:"asset_symbol"`
	CurrencySymbol string  `json:"currency_symbol"`
	MinSize        float64 `json:"min_size"`
	StepSize       float64 `json:"step_size"`
	StepPrice      float64 `json:"step_price"`
	Fees           float64 `json:"fees"`
	// Leverage 0 means spot trading; >0 means linear margin.
	Leverage float64 `json:"leverage"`
}

// Margin reports whether the pair trades on margin.
func (m MarketInfo) Margin() bool { return m.Leverage > 0 }

// RemoveFees converts a raw fill into its post-fee effective values.
// Fees are charged on the currency side: a buy pays more per unit, a
// sell receives less. The sign of size is always preserved.
func (m MarketInfo) RemoveFees(size, price float64) (effSize, effPrice float64) {
	effSize = size
	effPrice = price * (1 + m.Fees*sign(size))
	return effSize, effPrice
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Ticker is one market observation. Time is unix milliseconds.
type Ticker struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
	Time int64   `json:"time"`
}

// Order is a resting limit order. Size > 0 buys, size < 0 sells.
type Order struct {
	ID       int64   `json:"id"`
	ClientID string  `json:"client_id"`
	Size     float64 `json:"size"`
	Price    float64 `json:"price"`
}

// Trade is an exchange-reported fill. EffSize/EffPrice are post-fee.
type Trade struct {
	ID       int64   `json:"id"`
	Time     int64   `json:"time"`
	Size     float64 `json:"size"`
	Price    float64 `json:"price"`
	EffSize  float64 `json:"eff_size"`
	EffPrice float64 `json:"eff_price"`
}

// ChartItem is one sample of the bounded per-trader chart ring.
type ChartItem struct {
	Time int64   `json:"time"`
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}
