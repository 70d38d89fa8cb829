package stock

import (
	"errors"

	"mmbot/market"
)

// ErrReplaceLost is returned by PlaceOrder when a replace race was lost:
// the order named by replaceID no longer exists (or its remaining size is
// below replaceSize). The caller must refetch open orders and retry.
var ErrReplaceLost = errors.New("stock: replace race lost")

// API is the uniform pair-trading surface every exchange adapter
// presents. Live subprocess adapters, the emulator and the backtest
// replay source all satisfy it.
type API interface {
	GetMarketInfo(pair string) (market.MarketInfo, error)
	GetTicker(pair string) (market.Ticker, error)
	GetBalance(symbol string) (float64, error)
	GetOpenOrders(pair string) ([]market.Order, error)

	// GetTrades returns the trades strictly after lastID, in time order.
	GetTrades(lastID int64, fromTime int64, pair string) ([]market.Trade, error)

	// PlaceOrder places a new order, or atomically replaces the order
	// named by replaceID (replaceID 0 means plain place). Size 0 with a
	// replaceID is a pure cancel. Returns the new order id, or
	// ErrReplaceLost when the replace target is gone.
	PlaceOrder(pair string, size, price float64, clientID string, replaceID int64, replaceSize float64) (int64, error)

	GetFees(pair string) (float64, error)
	GetAllPairs() ([]string, error)

	// Reset clears any per-tick cached state. Returning false aborts the
	// current cycle.
	Reset() bool
	IsTest() bool
}
