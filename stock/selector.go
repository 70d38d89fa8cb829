package stock

import (
	"sort"
)

// Selector is the process-wide registry mapping broker name to adapter.
// It is populated at startup and cleared at shutdown; traders borrow
// adapters from it and never own them.
type Selector struct {
	names   []string
	markets map[string]API
}

func NewSelector() *Selector {
	return &Selector{markets: make(map[string]API)}
}

// LoadStockMarkets populates the registry from the brokers config
// section. Each entry declares an external command line; the subprocess
// is spawned lazily on first use.
func (s *Selector) LoadStockMarkets(brokers map[string]string) {
	names := make([]string, 0, len(brokers))
	markets := make(map[string]API, len(brokers))
	for name, cmdline := range brokers {
		names = append(names, name)
		markets[name] = NewExt(name, cmdline)
	}
	sort.Strings(names)
	s.names = names
	s.markets = markets
}

// Add registers an adapter under name, replacing any existing one.
func (s *Selector) Add(name string, api API) {
	if _, ok := s.markets[name]; !ok {
		s.names = append(s.names, name)
		sort.Strings(s.names)
	}
	s.markets[name] = api
}

// Get returns the adapter registered under name, or nil.
func (s *Selector) Get(name string) API {
	return s.markets[name]
}

// ForEach iterates adapters in name order.
func (s *Selector) ForEach(fn func(name string, api API)) {
	for _, n := range s.names {
		fn(n, s.markets[n])
	}
}

// Clear releases all adapters.
func (s *Selector) Clear() {
	for _, n := range s.names {
		if c, ok := s.markets[n].(interface{ Close() }); ok {
			c.Close()
		}
	}
	s.names = nil
	s.markets = make(map[string]API)
}
