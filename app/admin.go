package app

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"mmbot/backtest"
	"mmbot/ctrl"
	"mmbot/market"
	"mmbot/sched"
	"mmbot/trader"
)

// registerControl binds the admin commands to the control socket. Each
// handler runs its trader work on the scheduler worker, serialized
// with the trading ticks.
func (a *App) registerControl(srv *ctrl.Server) {
	srv.Register("logrotate", a.cmdLogrotate)
	srv.Register("calc_range", a.cmdCalcRange)
	srv.Register("get_all_pairs", a.cmdGetAllPairs)
	srv.Register("erase_trade", a.cmdEraseTrade)
	srv.Register("resync_trades_from", a.cmdResyncTradesFrom)
	srv.Register("reset", a.cmdReset)
	srv.Register("achieve", a.cmdAchieve)
	srv.Register("repair", a.cmdRepair)
	srv.Register("backtest", a.cmdBacktest)
}

func (a *App) cmdLogrotate([]string) (string, error) {
	a.queue.Push(a.rpt.GenReport)
	return "ok", nil
}

func (a *App) cmdCalcRange(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: calc_range <trader>")
	}
	tr, err := a.trader(args[0])
	if err != nil {
		return "", err
	}
	var res trader.RangeResult
	err = sched.RunWait(a.sch.Worker(), func() error {
		if err := tr.Init(); err != nil {
			return err
		}
		res = tr.CalcMinMaxRange()
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"assets: %g\nvalue: %g\navail_assets: %g\navail_money: %g\nmin_price: %g\nmax_price: %g",
		res.Assets, res.Value, res.AvailAssets, res.AvailMoney, res.MinPrice, res.MaxPrice,
	), nil
}

func (a *App) cmdGetAllPairs(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: get_all_pairs <broker>")
	}
	api := a.selector.Get(args[0])
	if api == nil {
		return "", fmt.Errorf("broker %q: %w", args[0], ctrl.ErrUnknownEntity)
	}
	pairs, err := api.GetAllPairs()
	if err != nil {
		return "", err
	}
	return strings.Join(pairs, "\n"), nil
}

func (a *App) cmdEraseTrade(args []string) (string, error) {
	return a.eraseTrade(args, false, "erase_trade")
}

func (a *App) cmdResyncTradesFrom(args []string) (string, error) {
	return a.eraseTrade(args, true, "resync_trades_from")
}

func (a *App) eraseTrade(args []string, trunc bool, name string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: %s <trader> <trade-id>", name)
	}
	tr, err := a.trader(args[0])
	if err != nil {
		return "", err
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("%s: bad trade id %q", name, args[1])
	}
	var found bool
	err = sched.RunWait(a.sch.Worker(), func() error {
		var err error
		found, err = tr.EraseTrade(id, trunc)
		return err
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("trade %d: %w", id, ctrl.ErrUnknownEntity)
	}
	return "ok", nil
}

func (a *App) cmdReset(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: reset <trader>")
	}
	tr, err := a.trader(args[0])
	if err != nil {
		return "", err
	}
	err = sched.RunWait(a.sch.Worker(), tr.ResetTrades)
	if err != nil {
		return "", err
	}
	return "ok", nil
}

func (a *App) cmdAchieve(args []string) (string, error) {
	if len(args) != 3 {
		return "", fmt.Errorf("usage: achieve <trader> <price> <balance>")
	}
	tr, err := a.trader(args[0])
	if err != nil {
		return "", err
	}
	price, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return "", fmt.Errorf("achieve: bad price %q", args[1])
	}
	balance, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return "", fmt.Errorf("achieve: bad balance %q", args[2])
	}
	err = sched.RunWait(a.sch.Worker(), func() error {
		return tr.AchieveBalance(price, balance)
	})
	if err != nil {
		return "", err
	}
	return "ok", nil
}

func (a *App) cmdRepair(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: repair <trader>")
	}
	tr, err := a.trader(args[0])
	if err != nil {
		return "", err
	}
	err = sched.RunWait(a.sch.Worker(), tr.Repair)
	if err != nil {
		return "", err
	}
	return "ok", nil
}

// cmdBacktest replays the trader's recorded chart with optional
// config overrides. The live trader is only read, never mutated.
func (a *App) cmdBacktest(args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: backtest <trader> [key=value ...]")
	}
	tr, err := a.trader(args[0])
	if err != nil {
		return "", err
	}
	opts, err := backtest.ParseOptions(args[1:])
	if err != nil {
		return "", err
	}

	var (
		cfg     trader.Config
		minfo   market.MarketInfo
		chart   []market.ChartItem
		spread  float64
		balance float64
	)
	err = sched.RunWait(a.sch.Worker(), func() error {
		if err := tr.Init(); err != nil {
			return err
		}
		cfg = tr.Config()
		minfo = tr.MarketInfo()
		chart = tr.Chart()
		spread = tr.LastSpread()
		balance = tr.InternalBalance()
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(chart) == 0 {
		return "", fmt.Errorf("backtest %s: no chart data yet", args[0])
	}
	if err := backtest.ApplyOptions(&cfg, opts); err != nil {
		return "", err
	}

	// Report methods are mutex-protected, so the replay can render
	// progress into the shared report from this goroutine.
	var dots bytes.Buffer
	bt := backtest.New(args[0], cfg, minfo, chart, spread, balance, a.rpt)
	if err := bt.Run(&dots); err != nil {
		return "", err
	}
	res := bt.Trader()
	return fmt.Sprintf(
		"%s\nrun: %s\nsamples: %d\ntrades: %d\nbalance: %g\ncurrency: %g",
		dots.String(), bt.RunID(), len(chart), len(res.Trades()),
		res.InternalBalance(), res.Currency(),
	), nil
}
