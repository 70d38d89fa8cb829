package backtest

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"mmbot/market"
	"mmbot/report"
	"mmbot/trader"
)

func testMarketInfo() market.MarketInfo {
	return market.MarketInfo{
		AssetSymbol:    "BTC",
		CurrencySymbol: "USD",
		MinSize:        0.001,
	}
}

func testConfig() trader.Config {
	return trader.Config{
		Broker:          "replay",
		Pair:            "BTCUSD",
		OrderSize:       1,
		MinSpread:       0.02,
		InitialCurrency: 10000,
	}
}

// waveChart is a deterministic oscillating price series.
func waveChart(n int) []market.ChartItem {
	chart := make([]market.ChartItem, n)
	for i := range chart {
		last := 100 + 5*math.Sin(float64(i)/2)
		chart[i] = market.ChartItem{
			Time: int64(1000 * (i + 1)),
			Bid:  last - 0.25,
			Ask:  last + 0.25,
			Last: last,
		}
	}
	return chart
}

func TestParseOptions(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions([]string{"order_size=2", " min_spread = 0.05 "})
	assert.NoError(t, err)
	assert.Equal(t, "2", opts["order_size"])
	assert.Equal(t, "0.05", opts["min_spread"])

	_, err = ParseOptions([]string{"garbage"})
	assert.Error(t, err)
}

func TestApplyOptions(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	err := ApplyOptions(&cfg, map[string]string{
		"order_size": "2.5", "max_position": "10",
	})
	assert.NoError(t, err)
	assert.Equal(t, 2.5, cfg.OrderSize)
	assert.Equal(t, 10.0, cfg.MaxPosition)

	assert.Error(t, ApplyOptions(&cfg, map[string]string{"no_such": "1"}))
	assert.Error(t, ApplyOptions(&cfg, map[string]string{"order_size": "abc"}))
}

func TestStepWalksChart(t *testing.T) {
	t.Parallel()

	c := New("t1", testConfig(), testMarketInfo(), waveChart(5), 0.02, 0, nil)
	steps := 0
	for c.Step() {
		steps++
	}
	assert.Equal(t, 5, steps)
	assert.False(t, c.Step())
}

func TestRunProducesFills(t *testing.T) {
	t.Parallel()

	c := New("t1", testConfig(), testMarketInfo(), waveChart(200), 0.02, 0, nil)
	assert.NoError(t, c.Run(nil))

	// An oscillating market crosses the quotes repeatedly.
	assert.NotEmpty(t, c.Trader().Trades())
	assert.NotEmpty(t, c.FinalJournal())
}

func TestBacktestDeterminism(t *testing.T) {
	t.Parallel()

	chart := waveChart(1000)
	run := func() []byte {
		c := New("t1", testConfig(), testMarketInfo(), chart, 0.02, 0, nil)
		assert.NoError(t, c.Run(nil))
		return c.FinalJournal()
	}

	first := run()
	second := run()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestRunRegeneratesReport(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	rpt := report.New(store, 0, false)
	c := New("t1", testConfig(), testMarketInfo(), waveChart(200), 0.02, 0, rpt)
	assert.NoError(t, c.Run(nil))

	// The final regeneration renders the replayed trader's snapshots.
	assert.NotNil(t, store.data)
	assert.Contains(t, string(store.data), "t1:bt")
}

func TestRunWritesProgressDots(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New("t1", testConfig(), testMarketInfo(), waveChart(200), 0.02, 0, nil)
	assert.NoError(t, c.Run(&out))
	assert.Equal(t, "...", out.String())
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRunAbortsWhenClientGone(t *testing.T) {
	t.Parallel()

	c := New("t1", testConfig(), testMarketInfo(), waveChart(200), 0.02, 0, nil)
	err := c.Run(failWriter{})
	assert.ErrorContains(t, err, "client gone")
}

func TestSeededBalanceCarriedIn(t *testing.T) {
	t.Parallel()

	c := New("t1", testConfig(), testMarketInfo(), waveChart(1), 0.02, 3.5, nil)
	assert.True(t, c.Step())
	assert.InDelta(t, 3.5, c.Trader().InternalBalance(), 1.0+1e-9)
}
