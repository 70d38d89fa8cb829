// Package report maintains the rendered report document shared by all
// traders and the stats sink that feeds it off the trading path.
package report

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"mmbot/market"
	"mmbot/storage"
	"mmbot/trader"
)

type traderEntry struct {
	trader.Snapshot
	// NeutralPrice is Currency/InternalBalance, rendered when the
	// report is configured with a2np.
	NeutralPrice float64        `json:"neutral_price,omitempty"`
	Trades       []market.Trade `json:"trades"`
}

type document struct {
	Updated int64                  `json:"updated"`
	Traders map[string]traderEntry `json:"traders"`
	Errors  map[string]string      `json:"errors,omitempty"`
}

// Report collects per-trader snapshots and renders them into one
// storage key. It is shared by all traders and mutated only from the
// scheduler worker; the mutex guards the HTTP-facing readers.
type Report struct {
	store    storage.Storage
	interval int64 // ms of trade history retained
	a2np     bool

	mu  sync.Mutex
	doc document
}

func New(store storage.Storage, interval int64, a2np bool) *Report {
	return &Report{
		store:    store,
		interval: interval,
		a2np:     a2np,
		doc: document{
			Traders: make(map[string]traderEntry),
			Errors:  make(map[string]string),
		},
	}
}

// SetTrader folds one cycle snapshot into the document.
func (r *Report) SetTrader(s trader.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.doc.Traders[s.Ident]
	e.Snapshot = s
	e.Trades = append(e.Trades, s.NewTrades...)
	if r.interval > 0 {
		horizon := s.Time - r.interval
		for len(e.Trades) > 0 && e.Trades[0].Time < horizon {
			e.Trades = e.Trades[1:]
		}
	}
	if r.a2np && s.InternalBalance != 0 {
		e.NeutralPrice = s.Currency / s.InternalBalance
	} else {
		e.NeutralPrice = 0
	}
	r.doc.Traders[s.Ident] = e
	delete(r.doc.Errors, s.Ident)
}

// SetError records a failed cycle for the given trader.
func (r *Report) SetError(ident string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Errors[ident] = err.Error()
}

// GenReport writes the current document to storage.
func (r *Report) GenReport() {
	r.mu.Lock()
	r.doc.Updated = time.Now().UnixMilli()
	doc := r.doc
	r.mu.Unlock()

	if err := r.store.Put(&doc); err != nil {
		logs.Errorf("report: write failed: %v", err)
	}
}
