// Package app wires the configured traders, brokers, storage, report
// and control surfaces into one running instance.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/yanun0323/logs"

	"mmbot/config"
	"mmbot/ctrl"
	"mmbot/emulator"
	"mmbot/httpd"
	"mmbot/report"
	"mmbot/sched"
	"mmbot/stock"
	"mmbot/storage"
	"mmbot/trader"
)

const (
	journalRevisions = 5
	reportRevisions  = 2
	warmupDelay      = time.Second
	tickInterval     = time.Minute
)

// App is the assembled daemon: every trader plus the shared services
// they hang off. All trader work funnels through the scheduler's
// single worker, so traders never need their own locking.
type App struct {
	cfg    *config.Config
	dryRun bool

	sch      *sched.Scheduler
	queue    *sched.ActionQueue
	selector *stock.Selector
	journals storage.Factory
	sqlite   *storage.SQLiteFactory

	traders []*trader.Trader
	byIdent map[string]*trader.Trader
	apis    map[string]stock.API

	rpt  *report.Report
	web  *httpd.Server
	csrv *ctrl.Server

	tick sched.Handle
}

// nopStore backs the report when no report path is configured.
type nopStore struct{}

func (nopStore) Load(any) (bool, error) { return false, nil }
func (nopStore) Put(any) error          { return nil }
func (nopStore) Erase() error           { return nil }

// New builds the application context. dryRun forces every trader
// behind an emulator regardless of its own setting.
func New(cfg *config.Config, dryRun bool) (*App, error) {
	a := &App{
		cfg:     cfg,
		dryRun:  dryRun,
		sch:     sched.New(),
		byIdent: make(map[string]*trader.Trader),
		apis:    make(map[string]stock.API),
	}
	a.queue = sched.NewActionQueue(a.sch)

	a.selector = stock.NewSelector()
	a.selector.LoadStockMarkets(cfg.Brokers)

	var err error
	a.journals, err = a.openJournalFactory()
	if err != nil {
		a.sch.Stop()
		return nil, err
	}

	var rptStore storage.Storage = nopStore{}
	if cfg.Report.Path != "" {
		ff, err := storage.NewFileFactory(cfg.Report.Path, reportRevisions, storage.JSON)
		if err != nil {
			a.sch.Stop()
			return nil, err
		}
		rptStore = ff.Create("report.json")
	}
	a.rpt = report.New(rptStore, cfg.Report.Interval, cfg.Report.A2NP)
	return a, nil
}

func (a *App) openJournalFactory() (storage.Factory, error) {
	path := a.cfg.Traders.StoragePath
	if strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite3") {
		sf, err := storage.NewSQLiteFactory(path, journalRevisions)
		if err != nil {
			return nil, err
		}
		a.sqlite = sf
		return sf, nil
	}
	enc := storage.JSON
	if a.cfg.Traders.StorageBinary {
		enc = storage.Binary
	}
	return storage.NewFileFactory(path, journalRevisions, enc)
}

// LoadTraders instantiates every enabled trader. A broker name that
// resolves to nothing is a configuration error.
func (a *App) LoadTraders() error {
	for _, ident := range a.cfg.Enabled() {
		tc := a.cfg.Pairs[ident]
		if tc.SpreadCalcInterval <= 0 {
			tc.SpreadCalcInterval = a.cfg.Traders.SpreadCalcInterval
		}
		if a.dryRun {
			tc.DryRun = true
		}

		api := a.selector.Get(tc.Broker)
		if api == nil {
			return fmt.Errorf("trader %q: broker %q is not configured", ident, tc.Broker)
		}
		if tc.DryRun {
			api = emulator.New(api, tc.InitialCurrency)
		}

		sink := report.NewStats2Report(ident, a.rpt, a.queue)
		tr := trader.New(ident, tc, api, a.journals.Create(ident), sink)
		a.traders = append(a.traders, tr)
		a.byIdent[ident] = tr
		a.apis[ident] = api
		logs.Infof("trader %s: loaded (broker %s, pair %s, dry_run %v)", ident, tc.Broker, tc.Pair, tc.DryRun)
	}
	return nil
}

// RunTraders is one tick: reset every adapter once, then run each
// trader's cycle. A failed reset skips that adapter's traders until
// the next tick; a panicking trader is reported and skipped, the
// others still run.
func (a *App) RunTraders() {
	fresh := make(map[stock.API]bool)
	for _, api := range a.apis {
		if _, seen := fresh[api]; !seen {
			fresh[api] = api.Reset()
		}
	}
	for _, tr := range a.traders {
		if !fresh[a.apis[tr.Ident()]] {
			logs.Warnf("trader %s: broker reset failed, skipping this cycle", tr.Ident())
			continue
		}
		a.performOne(tr)
	}
	a.queue.Push(a.rpt.GenReport)
}

func (a *App) performOne(tr *trader.Trader) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logs.Errorf("trader %s: %v", tr.Ident(), err)
			a.rpt.SetError(tr.Ident(), err)
		}
	}()
	if err := tr.Perform(); err != nil {
		logs.Warnf("trader %s: cycle: %v", tr.Ident(), err)
		a.rpt.SetError(tr.Ident(), err)
	}
}

// Start arms the trading schedule and brings up the HTTP and control
// surfaces.
func (a *App) Start() error {
	if a.cfg.Report.Path != "" && a.cfg.Report.HTTPBind != "" {
		a.web = httpd.New(a.cfg.Report.Path, a.cfg.Report.HTTPBind, a.cfg.Report.HTTPAuth)
		if err := a.web.Start(); err != nil {
			return err
		}
	}
	if a.cfg.Service.InstFile != "" {
		a.csrv = ctrl.NewServer(a.cfg.Service.InstFile + ".sock")
		a.registerControl(a.csrv)
		if err := a.csrv.Listen(); err != nil {
			return err
		}
	}

	a.sch.After(warmupDelay, a.RunTraders)
	a.tick = a.sch.Each(tickInterval, a.RunTraders)
	logs.Infof("running %d traders", len(a.traders))
	return nil
}

// Stop tears the instance down in dependency order: no new ticks, let
// in-flight work drain, then close the surfaces and adapters.
func (a *App) Stop() {
	a.sch.Remove(a.tick)
	a.sch.Sync()
	if a.csrv != nil {
		a.csrv.Close()
	}
	if a.web != nil {
		a.web.Stop()
	}
	a.selector.Clear()
	if a.sqlite != nil {
		a.sqlite.Close()
	}
	a.sch.Stop()
}

// TickNow runs one tick on the scheduler worker and waits for it,
// serialized with the regular schedule and the control handlers.
func (a *App) TickNow() {
	_ = sched.RunWait(a.sch.Worker(), func() error {
		a.RunTraders()
		return nil
	})
}

// Traders exposes the loaded traders, mainly for tests.
func (a *App) Traders() []*trader.Trader { return a.traders }

// Report exposes the shared report.
func (a *App) Report() *report.Report { return a.rpt }

func (a *App) trader(ident string) (*trader.Trader, error) {
	tr, ok := a.byIdent[ident]
	if !ok {
		return nil, fmt.Errorf("trader %q: %w", ident, ctrl.ErrUnknownEntity)
	}
	return tr, nil
}
