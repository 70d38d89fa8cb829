package trader

import (
	"fmt"
	"strings"
)

// Config is one trader's section of the config file.
type Config struct {
	Broker string `yaml:"broker"`
	Pair   string `yaml:"pair_symbol"`
	Title  string `yaml:"title"`

	// DryRun wraps the broker in an emulator; no real orders leave the
	// process. Forced on by the -t switch.
	DryRun bool `yaml:"dry_run"`

	// InitialCurrency seeds the emulator account when the real balance
	// is unavailable (dry run and backtest).
	InitialCurrency float64 `yaml:"initial_currency"`

	// OrderSize is the quoted size per side.
	OrderSize float64 `yaml:"order_size"`

	// MinSpread is the floor on the relative spread between the two
	// quotes; it also serves as the starting spread before the smoothed
	// estimate converges.
	MinSpread float64 `yaml:"min_spread"`

	// MaxPosition caps the absolute internal balance; the side that
	// would grow the position past it stops quoting. 0 disables.
	MaxPosition float64 `yaml:"max_position"`

	// SpreadCalcInterval is the number of cycles between smoothed
	// spread recomputations.
	SpreadCalcInterval int `yaml:"spread_calc_interval"`

	// ChartLen bounds the ticker ring used by the strategy.
	ChartLen int `yaml:"chart_len"`
}

const (
	defaultMinSpread  = 0.01
	defaultChartLen   = 240
	defaultSpreadCalc = 10
)

func (c *Config) applyDefaults() {
	if c.MinSpread <= 0 {
		c.MinSpread = defaultMinSpread
	}
	if c.ChartLen <= 0 {
		c.ChartLen = defaultChartLen
	}
	if c.SpreadCalcInterval <= 0 {
		c.SpreadCalcInterval = defaultSpreadCalc
	}
	if c.Title == "" {
		c.Title = c.Pair
	}
}

// Validate rejects configs that cannot produce a working trader.
func (c *Config) Validate(ident string) error {
	if strings.HasPrefix(ident, "_") {
		return fmt.Errorf("%s: the trader's name can't begin with underscore '_'", ident)
	}
	if c.Broker == "" {
		return fmt.Errorf("%s: broker is required", ident)
	}
	if c.Pair == "" {
		return fmt.Errorf("%s: pair_symbol is required", ident)
	}
	if c.OrderSize <= 0 {
		return fmt.Errorf("%s: order_size must be positive", ident)
	}
	if c.MinSpread < 0 {
		return fmt.Errorf("%s: min_spread must not be negative", ident)
	}
	return nil
}
