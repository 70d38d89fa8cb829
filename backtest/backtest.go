// Package backtest replays a trader's recorded chart through a fresh
// emulator-backed trader, one sample per step. The same chart and
// config always produce the same final journal.
package backtest

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/yanun0323/logs"

	"mmbot/emulator"
	"mmbot/market"
	"mmbot/report"
	"mmbot/trader"
)

// ParseOptions parses "key=value" override arguments.
func ParseOptions(args []string) (map[string]string, error) {
	opts := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("backtest: option %q is not key=value", arg)
		}
		opts[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return opts, nil
}

// ApplyOptions overlays parsed overrides onto a trader config.
func ApplyOptions(cfg *trader.Config, opts map[string]string) error {
	for key, value := range opts {
		var dst *float64
		switch key {
		case "order_size":
			dst = &cfg.OrderSize
		case "min_spread":
			dst = &cfg.MinSpread
		case "max_position":
			dst = &cfg.MaxPosition
		case "initial_currency":
			dst = &cfg.InitialCurrency
		default:
			return fmt.Errorf("backtest: unknown option %q", key)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("backtest: option %s: %w", key, err)
		}
		*dst = v
	}
	return nil
}

// replaySource serves one chart sample at a time as the live market.
type replaySource struct {
	minfo market.MarketInfo
	chart []market.ChartItem
	pos   int
	cur   market.Ticker
}

func (r *replaySource) advance() bool {
	if r.pos >= len(r.chart) {
		return false
	}
	c := r.chart[r.pos]
	r.pos++
	r.cur = market.Ticker{Bid: c.Bid, Ask: c.Ask, Last: c.Last, Time: c.Time}
	return true
}

func (r *replaySource) GetMarketInfo(string) (market.MarketInfo, error) { return r.minfo, nil }
func (r *replaySource) GetTicker(string) (market.Ticker, error)        { return r.cur, nil }
func (r *replaySource) GetBalance(string) (float64, error) {
	return 0, fmt.Errorf("backtest: no balances in replay")
}
func (r *replaySource) GetOpenOrders(string) ([]market.Order, error) { return nil, nil }
func (r *replaySource) GetTrades(int64, int64, string) ([]market.Trade, error) {
	return nil, nil
}
func (r *replaySource) PlaceOrder(string, float64, float64, string, int64, float64) (int64, error) {
	return 0, fmt.Errorf("backtest: replay source does not trade")
}
func (r *replaySource) GetFees(string) (float64, error) { return r.minfo.Fees, nil }
func (r *replaySource) GetAllPairs() ([]string, error)  { return nil, nil }
func (r *replaySource) Reset() bool                     { return true }
func (r *replaySource) IsTest() bool                    { return true }

// memStore keeps the backtest journal in memory; the final bytes are
// the determinism witness.
type memStore struct{ data []byte }

func (m *memStore) Load(dst any) (bool, error) {
	if m.data == nil {
		return false, nil
	}
	return true, json.Unmarshal(m.data, dst)
}
func (m *memStore) Put(src any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	m.data = b
	return nil
}
func (m *memStore) Erase() error { m.data = nil; return nil }

type syncSink struct{ rpt *report.Report }

func (s syncSink) ReportCycle(sn trader.Snapshot) { s.rpt.SetTrader(sn) }
func (s syncSink) CalcSpread(chart []market.ChartItem, prev float64, cb func(float64)) {
	cb(report.SmoothSpread(chart, prev))
}

// Control drives one backtest run.
type Control struct {
	runID string
	tr    *trader.Trader
	src   *replaySource
	rpt   *report.Report
	store *memStore
}

// New builds a backtest over the given chart, starting from the live
// trader's spread and internal balance. rpt may be nil.
func New(ident string, cfg trader.Config, minfo market.MarketInfo, chart []market.ChartItem, lastSpread, internalBalance float64, rpt *report.Report) *Control {
	src := &replaySource{minfo: minfo, chart: chart}
	emu := emulator.New(src, cfg.InitialCurrency)
	emu.SeedIDs(0)

	var sink trader.StatsSink
	if rpt != nil {
		sink = syncSink{rpt: rpt}
	}
	store := &memStore{}
	runID := ulid.Make().String()
	tr := trader.New(ident+":bt", cfg, emu, store, sink)
	tr.SeedModel(lastSpread, internalBalance)

	return &Control{runID: runID, tr: tr, src: src, rpt: rpt, store: store}
}

func (c *Control) RunID() string { return c.runID }

// Step advances the replay by one sample and runs one trader cycle.
// False means the chart is exhausted.
func (c *Control) Step() bool {
	if !c.src.advance() {
		return false
	}
	if err := c.tr.Perform(); err != nil {
		logs.Warnf("backtest %s: cycle: %v", c.runID, err)
	}
	return true
}

// Run replays the whole chart. Every 60 steps it writes a progress dot
// to out and aborts if the write fails (the client hung up); every 15
// seconds it regenerates the full report.
func (c *Control) Run(out io.Writer) error {
	steps := 0
	lastReport := time.Now()
	for c.Step() {
		if c.rpt != nil && time.Since(lastReport) > 15*time.Second {
			c.rpt.GenReport()
			lastReport = time.Now()
		}
		steps++
		if steps >= 60 {
			steps = 0
			if out != nil {
				if _, err := out.Write([]byte(".")); err != nil {
					return fmt.Errorf("backtest %s: client gone: %w", c.runID, err)
				}
			}
		}
	}
	if c.rpt != nil {
		c.rpt.GenReport()
	}
	return nil
}

// Trader exposes the replayed trader for inspection after a run.
func (c *Control) Trader() *trader.Trader { return c.tr }

// FinalJournal returns the committed journal bytes.
func (c *Control) FinalJournal() []byte {
	return append([]byte(nil), c.store.data...)
}
