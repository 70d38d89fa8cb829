package stock

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/yanun0323/logs"

	"mmbot/market"
)

// Ext drives an external broker adapter as a subprocess. Requests and
// responses are newline-delimited JSON over the child's stdin/stdout,
// one call in flight at a time. A dead child is restarted on the next
// call.
type Ext struct {
	name    string
	cmdline string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  *json.Encoder
	stdout *bufio.Scanner
}

type extRequest struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type extResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

func NewExt(name, cmdline string) *Ext {
	return &Ext{name: name, cmdline: cmdline}
}

func (e *Ext) startLocked() error {
	if e.cmd != nil {
		return nil
	}
	cmd := exec.Command("/bin/sh", "-c", e.cmdline)
	in, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("broker %s: stdin: %w", e.name, err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("broker %s: stdout: %w", e.name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("broker %s: start: %w", e.name, err)
	}
	logs.Infof("broker %s: spawned %q (pid %d)", e.name, e.cmdline, cmd.Process.Pid)
	e.cmd = cmd
	e.stdin = json.NewEncoder(in)
	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	e.stdout = sc
	return nil
}

func (e *Ext) stopLocked() {
	if e.cmd == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_ = e.cmd.Wait()
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil
}

// call performs one request/response roundtrip. Any transport failure
// kills the child so the next call restarts it.
func (e *Ext) call(method string, params, result any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.startLocked(); err != nil {
		return err
	}
	if err := e.stdin.Encode(extRequest{Method: method, Params: params}); err != nil {
		e.stopLocked()
		return fmt.Errorf("broker %s: send %s: %w", e.name, method, err)
	}
	if !e.stdout.Scan() {
		err := e.stdout.Err()
		e.stopLocked()
		if err == nil {
			return fmt.Errorf("broker %s: %s: adapter closed its output", e.name, method)
		}
		return fmt.Errorf("broker %s: recv %s: %w", e.name, method, err)
	}
	var resp extResponse
	if err := json.Unmarshal(e.stdout.Bytes(), &resp); err != nil {
		e.stopLocked()
		return fmt.Errorf("broker %s: parse %s response: %w", e.name, method, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("broker %s: %s: %s", e.name, method, resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("broker %s: decode %s result: %w", e.name, method, err)
		}
	}
	return nil
}

func (e *Ext) GetMarketInfo(pair string) (market.MarketInfo, error) {
	var mi market.MarketInfo
	err := e.call("getMarketInfo", map[string]string{"pair": pair}, &mi)
	return mi, err
}

func (e *Ext) GetTicker(pair string) (market.Ticker, error) {
	var tk market.Ticker
	err := e.call("getTicker", map[string]string{"pair": pair}, &tk)
	return tk, err
}

func (e *Ext) GetBalance(symbol string) (float64, error) {
	var b float64
	err := e.call("getBalance", map[string]string{"symbol": symbol}, &b)
	return b, err
}

func (e *Ext) GetOpenOrders(pair string) ([]market.Order, error) {
	var orders []market.Order
	err := e.call("getOpenOrders", map[string]string{"pair": pair}, &orders)
	return orders, err
}

func (e *Ext) GetTrades(lastID int64, fromTime int64, pair string) ([]market.Trade, error) {
	var trades []market.Trade
	err := e.call("getTrades", map[string]any{
		"lastId": lastID, "fromTime": fromTime, "pair": pair,
	}, &trades)
	return trades, err
}

func (e *Ext) PlaceOrder(pair string, size, price float64, clientID string, replaceID int64, replaceSize float64) (int64, error) {
	// The adapter answers null when the replace race was lost.
	var id *int64
	err := e.call("placeOrder", map[string]any{
		"pair": pair, "size": size, "price": price, "clientId": clientID,
		"replaceId": replaceID, "replaceSize": replaceSize,
	}, &id)
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, ErrReplaceLost
	}
	return *id, nil
}

func (e *Ext) GetFees(pair string) (float64, error) {
	var fees float64
	err := e.call("getFees", map[string]string{"pair": pair}, &fees)
	return fees, err
}

func (e *Ext) GetAllPairs() ([]string, error) {
	var pairs []string
	err := e.call("getAllPairs", nil, &pairs)
	return pairs, err
}

func (e *Ext) Reset() bool {
	if err := e.call("reset", nil, nil); err != nil {
		logs.Warnf("broker %s: reset failed: %v", e.name, err)
		return false
	}
	return true
}

func (e *Ext) IsTest() bool { return false }

// Close kills the subprocess if it is running.
func (e *Ext) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}
