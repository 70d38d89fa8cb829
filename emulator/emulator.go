// Package emulator provides a virtual exchange wrapping a real market
// data source. Fills, fees and balances are simulated against the
// source's tickers; order placement never reaches the real market. It
// backs both dry-run operation and backtesting.
package emulator

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"mmbot/market"
	"mmbot/stock"
)

type Emulator struct {
	src stock.API

	mu             sync.Mutex
	orders         []market.Order
	trades         []market.Trade
	balance        float64
	currency       float64
	marginCurrency float64
	minfo          market.MarketInfo
	pair           string
	margin         bool

	assetSymb    string
	currencySymb string
	readBalance  bool
	readCurrency bool

	initialCurrency float64
	prevID          int64
}

// New wraps src. The emulated currency account starts at
// initialCurrency when the source cannot report a real balance.
func New(src stock.API, initialCurrency float64) *Emulator {
	return &Emulator{
		src:             src,
		initialCurrency: initialCurrency,
		readBalance:     true,
		readCurrency:    true,
		prevID:          time.Now().UnixMilli(),
	}
}

// SeedIDs pins the id generator so replays produce identical order and
// trade ids. Used by the backtest driver.
func (e *Emulator) SeedIDs(seed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prevID = seed
}

func (e *Emulator) genID() int64 {
	e.prevID++
	return e.prevID
}

func (e *Emulator) GetMarketInfo(pair string) (market.MarketInfo, error) {
	mi, err := e.src.GetMarketInfo(pair)
	if err != nil {
		return mi, err
	}
	e.mu.Lock()
	e.minfo = mi
	e.assetSymb = mi.AssetSymbol
	e.currencySymb = mi.CurrencySymbol
	e.margin = mi.Leverage > 0
	e.mu.Unlock()
	return mi, nil
}

func (e *Emulator) readSourceBalance(symbol string, defval float64) float64 {
	b, err := e.src.GetBalance(symbol)
	if err != nil {
		logs.Warnf("emulator: balance for %s is not available, setting to %v - %v", symbol, defval, err)
		return defval
	}
	return b
}

func (e *Emulator) GetBalance(symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch symbol {
	case e.assetSymb:
		if e.readBalance {
			e.readBalance = false
			e.balance = e.readSourceBalance(symbol, 0)
		}
		return e.balance, nil
	case e.currencySymb:
		if e.readCurrency {
			e.readCurrency = false
			e.currency = e.readSourceBalance(symbol, e.initialCurrency)
		}
		return e.currency, nil
	default:
		return 0, nil
	}
}

func (e *Emulator) GetTicker(pair string) (market.Ticker, error) {
	tk, err := e.src.GetTicker(pair)
	if err != nil {
		return tk, err
	}
	e.mu.Lock()
	e.pair = pair
	e.simulation(tk)
	e.mu.Unlock()
	return tk, nil
}

func (e *Emulator) GetOpenOrders(pair string) ([]market.Order, error) {
	tk, err := e.src.GetTicker(pair)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.simulation(tk)
	out := make([]market.Order, len(e.orders))
	copy(out, e.orders)
	return out, nil
}

// GetTrades returns the accumulated simulated fills and consumes the
// buffer.
func (e *Emulator) GetTrades(lastID int64, fromTime int64, pair string) ([]market.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.trades
	e.trades = nil
	return out, nil
}

func (e *Emulator) PlaceOrder(pair string, size, price float64, clientID string, replaceID int64, replaceSize float64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := market.Order{ID: e.genID(), ClientID: clientID, Size: size, Price: price}
	if replaceID != 0 {
		for i := range e.orders {
			if e.orders[i].ID == replaceID {
				e.orders[i] = order
				return order.ID, nil
			}
		}
		return 0, stock.ErrReplaceLost
	}
	e.orders = append(e.orders, order)
	return order.ID, nil
}

func (e *Emulator) GetFees(pair string) (float64, error) {
	fees, err := e.src.GetFees(pair)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.minfo.Fees = fees
	e.mu.Unlock()
	return fees, nil
}

func (e *Emulator) GetAllPairs() ([]string, error) {
	return e.src.GetAllPairs()
}

// Reset delegates to the source, then re-pulls the last pair's ticker
// so the simulation runs on fresh data.
func (e *Emulator) Reset() bool {
	if !e.src.Reset() {
		return false
	}
	e.mu.Lock()
	pair := e.pair
	e.mu.Unlock()
	if pair != "" {
		_, _ = e.GetTicker(pair)
	}
	return true
}

func (e *Emulator) IsTest() bool { return true }

// simulation fills resting orders against a ticker. An order survives
// only while the market has not crossed through it: diff =
// (last-price)*size stays positive for buys below last and sells above
// last. Anything else fills completely at the order's own price. This
// models an optimistic exchange with unlimited liquidity.
//
// Callers must hold e.mu.
func (e *Emulator) simulation(tk market.Ticker) {
	cur := tk.Last
	var left []market.Order
	for _, o := range e.orders {
		diff := (cur - o.Price) * o.Size
		if diff > 0 {
			left = append(left, o)
			continue
		}
		tr := market.Trade{
			ID:    e.genID(),
			Time:  tk.Time,
			Size:  o.Size,
			Price: o.Price,
		}
		tr.EffSize, tr.EffPrice = e.minfo.RemoveFees(o.Size, o.Price)
		e.trades = append(e.trades, tr)
		logs.Infof("emulator trade: %v on %v", o.Size, o.Price)
		if e.margin {
			// The marginCurrency update looks wrong but changing it
			// would break replay parity with existing journals.
			if e.balance != 0 {
				openPrice := e.marginCurrency / e.balance
				e.currency += e.balance * (o.Price - openPrice)
			}
			e.marginCurrency += e.marginCurrency - tr.Size*tr.Price
		} else {
			e.currency -= tr.Size * tr.EffPrice
		}
		e.balance += tr.EffSize
	}
	e.orders = left
}
