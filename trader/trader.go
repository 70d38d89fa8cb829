// Package trader implements the per-pair trading cycle engine: the
// state machine that reads the market, reconciles exchange fills with
// its own journal, and keeps one buy and one sell order straddling the
// last price.
package trader

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yanun0323/logs"

	"mmbot/market"
	"mmbot/stock"
	"mmbot/storage"
)

// ErrOrderRace is returned when both the replace attempt and its single
// retry lost the race. The cycle aborts without committing; the next
// tick retries from scratch.
var ErrOrderRace = errors.New("trader: order replace race lost twice")

// journalData is the persisted per-trader state. It is committed as a
// single atomic storage put at the end of a successful cycle.
type journalData struct {
	Trades          []market.Trade     `json:"trades"`
	InternalBalance float64            `json:"internal_balance"`
	Currency        float64            `json:"currency"`
	MarginCurrency  float64            `json:"margin_currency"`
	LastSpread      float64            `json:"last_spread"`
	Chart           []market.ChartItem `json:"chart"`
	OpenBuyID       int64              `json:"open_buy_id"`
	OpenSellID      int64              `json:"open_sell_id"`
	LastSeenTradeID int64              `json:"last_seen_trade_id"`
}

func (j *journalData) clone() journalData {
	c := *j
	c.Trades = append([]market.Trade(nil), j.Trades...)
	c.Chart = append([]market.ChartItem(nil), j.Chart...)
	return c
}

func (j *journalData) hasTrade(id int64) bool {
	for _, tr := range j.Trades {
		if tr.ID == id {
			return true
		}
	}
	return false
}

type Trader struct {
	ident    string
	cfg      Config
	api      stock.API
	store    storage.Storage
	stats    StatsSink
	strategy Strategy

	minfo market.MarketInfo
	j     journalData

	loaded        bool
	balancesRead  bool
	cycles        int
	pendingSpread *float64
}

// New builds a trader. The api is borrowed (typically from the stock
// selector, possibly wrapped in an emulator); the storage handle is
// owned.
func New(ident string, cfg Config, api stock.API, store storage.Storage, stats StatsSink) *Trader {
	cfg.applyDefaults()
	if stats == nil {
		stats = NopStats{}
	}
	return &Trader{
		ident: ident,
		cfg:   cfg,
		api:   api,
		store: store,
		stats: stats,
		strategy: SpreadStrategy{
			OrderSize:   cfg.OrderSize,
			MinSpread:   cfg.MinSpread,
			MaxPosition: cfg.MaxPosition,
		},
	}
}

// Init loads the persisted journal. Safe to call repeatedly.
func (t *Trader) Init() error {
	if t.loaded {
		return nil
	}
	var j journalData
	ok, err := t.store.Load(&j)
	if err != nil {
		return fmt.Errorf("%s: load journal: %w", t.ident, err)
	}
	if ok {
		t.j = j
		t.balancesRead = true
	}
	if t.j.LastSpread <= 0 {
		t.j.LastSpread = t.cfg.MinSpread
	}
	t.loaded = true
	return nil
}

// SeedModel primes a fresh trader's model with a live trader's spread
// and internal balance. Used by the backtest driver; must be called
// before the first Perform.
func (t *Trader) SeedModel(lastSpread, internalBalance float64) {
	t.j.LastSpread = lastSpread
	t.j.InternalBalance = internalBalance
	if t.j.LastSpread <= 0 {
		t.j.LastSpread = t.cfg.MinSpread
	}
	t.loaded = true
}

func (t *Trader) clientBuy() string  { return t.ident + ":buy" }
func (t *Trader) clientSell() string { return t.ident + ":sell" }

// Perform runs one trading cycle. Either every mutation commits
// together (one atomic journal put) or the cycle aborts and the
// in-memory state stays at the pre-cycle journal.
func (t *Trader) Perform() error {
	if err := t.Init(); err != nil {
		return err
	}

	// Phase 1: refresh market info.
	minfo, err := t.api.GetMarketInfo(t.cfg.Pair)
	if err != nil {
		return fmt.Errorf("%s: market info: %w", t.ident, err)
	}
	if minfo.AssetSymbol == "" || minfo.CurrencySymbol == "" {
		return fmt.Errorf("%s: market info for %s is missing symbols", t.ident, t.cfg.Pair)
	}
	t.minfo = minfo

	work := t.j.clone()

	// First cycle ever: snapshot the currency account so the internal
	// model has a starting point.
	if !t.balancesRead {
		t.balancesRead = true
		cur, err := t.api.GetBalance(minfo.CurrencySymbol)
		if err != nil {
			logs.Warnf("%s: currency balance unavailable, starting at 0: %v", t.ident, err)
		} else {
			work.Currency = cur
		}
	}

	// Phase 2: ticker into the chart ring; adopt a freshly computed
	// spread if the stats sink delivered one.
	tk, err := t.api.GetTicker(t.cfg.Pair)
	if err != nil {
		return fmt.Errorf("%s: ticker: %w", t.ident, err)
	}
	work.Chart = append(work.Chart, market.ChartItem{
		Time: tk.Time, Bid: tk.Bid, Ask: tk.Ask, Last: tk.Last,
	})
	if over := len(work.Chart) - t.cfg.ChartLen; over > 0 {
		work.Chart = append([]market.ChartItem(nil), work.Chart[over:]...)
	}
	if t.pendingSpread != nil {
		work.LastSpread = *t.pendingSpread
		t.pendingSpread = nil
	}

	// Phase 3: ingest new trades.
	fromTime := int64(0)
	if n := len(work.Trades); n > 0 {
		fromTime = work.Trades[n-1].Time
	}
	trades, err := t.api.GetTrades(work.LastSeenTradeID, fromTime, t.cfg.Pair)
	if err != nil {
		return fmt.Errorf("%s: trades: %w", t.ident, err)
	}
	var ingested []market.Trade
	for _, tr := range trades {
		if work.hasTrade(tr.ID) {
			logs.Warnf("%s: anomaly: trade %d reported twice, skipped", t.ident, tr.ID)
			continue
		}
		if tr.ID <= work.LastSeenTradeID {
			logs.Warnf("%s: anomaly: trade %d older than last seen %d, skipped", t.ident, tr.ID, work.LastSeenTradeID)
			continue
		}
		work.applyTrade(tr, t.minfo.Margin())
		ingested = append(ingested, tr)
	}

	// Phase 4: reconcile our two known orders against the exchange.
	open, err := t.api.GetOpenOrders(t.cfg.Pair)
	if err != nil {
		return fmt.Errorf("%s: open orders: %w", t.ident, err)
	}
	for _, side := range []struct {
		name string
		id   *int64
	}{{"buy", &work.OpenBuyID}, {"sell", &work.OpenSellID}} {
		if *side.id == 0 {
			continue
		}
		if findOrder(open, *side.id) == nil {
			if len(ingested) == 0 {
				logs.Warnf("%s: anomaly: %s order %d disappeared without a matching trade", t.ident, side.name, *side.id)
			}
			*side.id = 0
		}
	}

	// Phase 5: ask the strategy for new targets.
	buyT, sellT := t.strategy.ComputeOrders(work.Chart, tk.Last, work.LastSpread, work.InternalBalance, t.minfo)

	// Phase 6: replace-or-place each side.
	work.OpenBuyID, err = t.applyOrder(open, work.OpenBuyID, buyT, t.clientBuy())
	if err != nil {
		return err
	}
	work.OpenSellID, err = t.applyOrder(open, work.OpenSellID, sellT, t.clientSell())
	if err != nil {
		return err
	}

	// Phase 7: commit and report.
	if err := t.store.Put(&work); err != nil {
		return fmt.Errorf("%s: commit: %w", t.ident, err)
	}
	t.j = work
	t.cycles++

	if t.cycles%t.cfg.SpreadCalcInterval == 0 {
		t.stats.CalcSpread(t.Chart(), t.j.LastSpread, t.acceptSpread)
	}
	// The open slice predates phase 6, so the snapshot entries are
	// synthesized from the targets the orders were just placed at.
	var openBuy, openSell *market.Order
	if t.j.OpenBuyID != 0 {
		openBuy = &market.Order{ID: t.j.OpenBuyID, ClientID: t.clientBuy(), Size: buyT.Size, Price: buyT.Price}
	}
	if t.j.OpenSellID != 0 {
		openSell = &market.Order{ID: t.j.OpenSellID, ClientID: t.clientSell(), Size: sellT.Size, Price: sellT.Price}
	}
	t.stats.ReportCycle(Snapshot{
		Ident:           t.ident,
		Title:           t.cfg.Title,
		Time:            tk.Time,
		Last:            tk.Last,
		InternalBalance: t.j.InternalBalance,
		Currency:        t.j.Currency,
		LastSpread:      t.j.LastSpread,
		TradeCount:      len(t.j.Trades),
		OpenBuy:         openBuy,
		OpenSell:        openSell,
		NewTrades:       ingested,
	})
	return nil
}

// applyTrade folds one fill into the journal model.
func (j *journalData) applyTrade(tr market.Trade, margin bool) {
	prev := j.InternalBalance
	j.Trades = append(j.Trades, tr)
	j.InternalBalance += tr.EffSize
	if margin {
		if prev != 0 {
			openPrice := j.MarginCurrency / prev
			j.Currency += prev * (tr.Price - openPrice)
		}
		j.MarginCurrency += j.MarginCurrency - tr.Size*tr.Price
	} else {
		j.Currency -= tr.EffSize * tr.EffPrice
	}
	if tr.ID > j.LastSeenTradeID {
		j.LastSeenTradeID = tr.ID
	}
}

// applyOrder brings one side of the book to its target. Returns the id
// of the live order for that side (0 when the side is not quoting).
func (t *Trader) applyOrder(open []market.Order, curID int64, target OrderTarget, clientID string) (int64, error) {
	cur := findOrder(open, curID)

	if target.Size == 0 {
		if cur == nil {
			return 0, nil
		}
		// Pure cancel: zero size with a replace id.
		_, err := t.api.PlaceOrder(t.cfg.Pair, 0, cur.Price, clientID, cur.ID, cur.Size)
		if err != nil && !errors.Is(err, stock.ErrReplaceLost) {
			return curID, fmt.Errorf("%s: cancel %s: %w", t.ident, clientID, err)
		}
		return 0, nil
	}

	if cur != nil && t.matchesTarget(*cur, target) {
		return cur.ID, nil
	}

	var replaceID int64
	var replaceSize float64
	if cur != nil {
		replaceID, replaceSize = cur.ID, cur.Size
	}
	id, err := t.api.PlaceOrder(t.cfg.Pair, target.Size, target.Price, clientID, replaceID, replaceSize)
	if errors.Is(err, stock.ErrReplaceLost) {
		// Lost the replace race: refetch and retry exactly once.
		open2, err2 := t.api.GetOpenOrders(t.cfg.Pair)
		if err2 != nil {
			return curID, fmt.Errorf("%s: refetch orders: %w", t.ident, err2)
		}
		replaceID, replaceSize = 0, 0
		if o := findClient(open2, clientID); o != nil {
			replaceID, replaceSize = o.ID, o.Size
		}
		id, err = t.api.PlaceOrder(t.cfg.Pair, target.Size, target.Price, clientID, replaceID, replaceSize)
		if errors.Is(err, stock.ErrReplaceLost) {
			return curID, fmt.Errorf("%s: %s: %w", t.ident, clientID, ErrOrderRace)
		}
	}
	if err != nil {
		return curID, fmt.Errorf("%s: place %s: %w", t.ident, clientID, err)
	}
	return id, nil
}

// matchesTarget reports whether a live order already satisfies the
// target within half a price/size increment.
func (t *Trader) matchesTarget(o market.Order, tg OrderTarget) bool {
	pTol := t.minfo.StepPrice / 2
	if pTol <= 0 {
		pTol = math.Abs(tg.Price) * 1e-9
	}
	sTol := t.minfo.StepSize / 2
	if sTol <= 0 {
		sTol = math.Abs(tg.Size) * 1e-9
	}
	return math.Abs(o.Price-tg.Price) <= pTol && math.Abs(o.Size-tg.Size) <= sTol
}

func (t *Trader) acceptSpread(v float64) {
	if v > 0 {
		t.pendingSpread = &v
	}
}

func findOrder(orders []market.Order, id int64) *market.Order {
	if id == 0 {
		return nil
	}
	for i := range orders {
		if orders[i].ID == id {
			return &orders[i]
		}
	}
	return nil
}

func findClient(orders []market.Order, clientID string) *market.Order {
	for i := range orders {
		if orders[i].ClientID == clientID {
			return &orders[i]
		}
	}
	return nil
}

// ResetTrades drops all journal trades but the one with the largest id
// and recomputes the internal balance from it. Exchange orders are not
// touched.
func (t *Trader) ResetTrades() error {
	if err := t.Init(); err != nil {
		return err
	}
	work := t.j.clone()
	if len(work.Trades) > 0 {
		last := work.Trades[0]
		for _, tr := range work.Trades {
			if tr.ID > last.ID {
				last = tr
			}
		}
		work.Trades = []market.Trade{last}
		work.InternalBalance = last.EffSize
		work.LastSeenTradeID = last.ID
	}
	return t.commit(work)
}

// Repair recomputes the internal balance from the journal and restores
// the journal ordering invariants.
func (t *Trader) Repair() error {
	if err := t.Init(); err != nil {
		return err
	}
	work := t.j.clone()
	sort.Slice(work.Trades, func(i, k int) bool { return work.Trades[i].ID < work.Trades[k].ID })
	var sum float64
	var maxID int64
	for _, tr := range work.Trades {
		sum += tr.EffSize
		if tr.ID > maxID {
			maxID = tr.ID
		}
	}
	work.InternalBalance = sum
	work.LastSeenTradeID = maxID
	if work.LastSpread <= 0 {
		work.LastSpread = t.cfg.MinSpread
	}
	if over := len(work.Chart) - t.cfg.ChartLen; over > 0 {
		work.Chart = append([]market.ChartItem(nil), work.Chart[over:]...)
	}
	return t.commit(work)
}

// AchieveBalance injects a synthetic fill bringing the internal model
// to the target balance at the reference price. The real exchange is
// not touched.
func (t *Trader) AchieveBalance(price, balance float64) error {
	if err := t.Init(); err != nil {
		return err
	}
	work := t.j.clone()
	diff := balance - work.InternalBalance
	tr := market.Trade{
		ID:       work.LastSeenTradeID + 1,
		Time:     time.Now().UnixMilli(),
		Size:     diff,
		Price:    price,
		EffSize:  diff,
		EffPrice: price,
	}
	work.Trades = append(work.Trades, tr)
	work.InternalBalance = balance
	if t.minfo.Margin() {
		work.MarginCurrency -= diff * price
	} else {
		work.Currency -= diff * price
	}
	logs.Infof("%s: achieve: balance %v at price %v", t.ident, balance, price)
	return t.commit(work)
}

// EraseTrade removes the trade with the given id; with trunc it also
// drops every newer trade so they get refetched from the exchange. The
// bool reports whether the trade existed.
func (t *Trader) EraseTrade(id int64, trunc bool) (bool, error) {
	if err := t.Init(); err != nil {
		return false, err
	}
	work := t.j.clone()
	idx := -1
	for i, tr := range work.Trades {
		if tr.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	if trunc {
		work.Trades = work.Trades[:idx]
		work.LastSeenTradeID = 0
		for _, tr := range work.Trades {
			if tr.ID > work.LastSeenTradeID {
				work.LastSeenTradeID = tr.ID
			}
		}
	} else {
		work.Trades = append(work.Trades[:idx], work.Trades[idx+1:]...)
	}
	var sum float64
	for _, tr := range work.Trades {
		sum += tr.EffSize
	}
	work.InternalBalance = sum
	if err := t.commit(work); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Trader) commit(work journalData) error {
	if err := t.store.Put(&work); err != nil {
		return fmt.Errorf("%s: commit: %w", t.ident, err)
	}
	t.j = work
	return nil
}

// RangeResult is the calc_range summary for one trader.
type RangeResult struct {
	Assets      float64
	Value       float64
	AvailAssets float64
	AvailMoney  float64
	MinPrice    float64
	MaxPrice    float64
}

// CalcMinMaxRange derives the traded price band and holdings summary
// from the chart and the internal model.
func (t *Trader) CalcMinMaxRange() RangeResult {
	res := RangeResult{
		Assets:      t.j.InternalBalance,
		AvailAssets: t.j.InternalBalance,
		AvailMoney:  t.j.Currency,
	}
	var last float64
	for i, c := range t.j.Chart {
		if i == 0 || c.Last < res.MinPrice {
			res.MinPrice = c.Last
		}
		if c.Last > res.MaxPrice {
			res.MaxPrice = c.Last
		}
		last = c.Last
	}
	res.Value = res.Assets * last
	return res
}

func (t *Trader) Ident() string            { return t.ident }
func (t *Trader) Config() Config           { return t.cfg }
func (t *Trader) MarketInfo() market.MarketInfo { return t.minfo }
func (t *Trader) LastSpread() float64      { return t.j.LastSpread }
func (t *Trader) InternalBalance() float64 { return t.j.InternalBalance }
func (t *Trader) Currency() float64        { return t.j.Currency }

// Chart returns a copy of the ticker ring.
func (t *Trader) Chart() []market.ChartItem {
	return append([]market.ChartItem(nil), t.j.Chart...)
}

// Trades returns a copy of the journal's trades.
func (t *Trader) Trades() []market.Trade {
	return append([]market.Trade(nil), t.j.Trades...)
}
