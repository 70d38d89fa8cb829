package report

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mmbot/market"
	"mmbot/sched"
	"mmbot/trader"
)

type memStore struct{ data []byte }

func (m *memStore) Load(dst any) (bool, error) {
	if m.data == nil {
		return false, nil
	}
	return true, json.Unmarshal(m.data, dst)
}
func (m *memStore) Put(src any) error {
	b, err := json.Marshal(src)
	m.data = b
	return err
}
func (m *memStore) Erase() error { m.data = nil; return nil }

func snap(ident string, tm int64, balance, currency float64) trader.Snapshot {
	return trader.Snapshot{
		Ident: ident, Time: tm,
		InternalBalance: balance, Currency: currency,
	}
}

func TestGenReportRendersTraders(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	r := New(store, 0, false)
	r.SetTrader(snap("alpha", 1000, 1, 500))
	r.SetTrader(snap("beta", 2000, -2, 900))
	r.GenReport()

	var doc document
	ok, err := store.Load(&doc)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, doc.Traders, 2)
	assert.Equal(t, 1.0, doc.Traders["alpha"].InternalBalance)
	assert.NotZero(t, doc.Updated)
}

func TestTradeHistoryTrimmedToInterval(t *testing.T) {
	t.Parallel()

	r := New(&memStore{}, 1000, false)
	s := snap("a", 5000, 0, 0)
	s.NewTrades = []market.Trade{
		{ID: 1, Time: 1000}, {ID: 2, Time: 4500}, {ID: 3, Time: 5000},
	}
	r.SetTrader(s)

	e := r.doc.Traders["a"]
	assert.Len(t, e.Trades, 2)
	assert.Equal(t, int64(2), e.Trades[0].ID)
}

func TestNeutralPriceWithA2NP(t *testing.T) {
	t.Parallel()

	r := New(&memStore{}, 0, true)
	r.SetTrader(snap("a", 1000, 2, 500))
	assert.Equal(t, 250.0, r.doc.Traders["a"].NeutralPrice)

	r2 := New(&memStore{}, 0, false)
	r2.SetTrader(snap("a", 1000, 2, 500))
	assert.Zero(t, r2.doc.Traders["a"].NeutralPrice)
}

func TestErrorsClearedOnSuccess(t *testing.T) {
	t.Parallel()

	r := New(&memStore{}, 0, false)
	r.SetError("a", errors.New("ticker timeout"))
	assert.Equal(t, "ticker timeout", r.doc.Errors["a"])

	r.SetTrader(snap("a", 1000, 0, 0))
	_, stale := r.doc.Errors["a"]
	assert.False(t, stale)
}

func TestStats2ReportDefersToQueue(t *testing.T) {
	t.Parallel()

	s := sched.New()
	defer s.Stop()
	q := sched.NewActionQueue(s)
	store := &memStore{}
	r := New(store, 0, false)
	sink := NewStats2Report("a", r, q)

	sink.ReportCycle(snap("a", 1000, 3, 0))

	// Nothing lands until the queue's cadence fires.
	r.mu.Lock()
	_, present := r.doc.Traders["a"]
	r.mu.Unlock()
	assert.False(t, present)

	assert.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		_, ok := r.doc.Traders["a"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSmoothSpread(t *testing.T) {
	t.Parallel()

	chart := []market.ChartItem{
		{Bid: 99, Ask: 101, Last: 100},
		{Bid: 99.5, Ask: 100.5, Last: 100},
	}
	// Seeded from the first sample, pulled toward the second.
	got := SmoothSpread(chart, 0)
	assert.InDelta(t, 0.02+spreadAlpha*(0.01-0.02), got, 1e-12)

	// Deterministic.
	assert.Equal(t, got, SmoothSpread(chart, 0))

	// Degenerate samples are skipped.
	assert.Equal(t, 0.05, SmoothSpread([]market.ChartItem{{Bid: 2, Ask: 1, Last: 1}}, 0.05))
}

func TestCalcSpreadCallback(t *testing.T) {
	t.Parallel()

	s := sched.New()
	defer s.Stop()
	q := sched.NewActionQueue(s)
	sink := NewStats2Report("a", New(&memStore{}, 0, false), q)

	got := make(chan float64, 1)
	sink.CalcSpread([]market.ChartItem{{Bid: 99, Ask: 101, Last: 100}}, 0, func(v float64) {
		got <- v
	})

	select {
	case v := <-got:
		assert.InDelta(t, 0.02, v, 1e-12)
	case <-time.After(5 * time.Second):
		t.Fatal("spread callback never delivered")
	}
}
