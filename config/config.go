// Package config loads and validates the daemon configuration file.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"mmbot/trader"
)

// Service identifies the daemon instance.
type Service struct {
	// InstFile anchors the pidfile and control socket paths.
	InstFile string `yaml:"inst_file"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
}

// Traders holds settings shared by every trader.
type Traders struct {
	// List selects which pairs sections run. Empty means all of them.
	List []string `yaml:"list"`

	StoragePath string `yaml:"storage_path"`

	// StorageBinary picks gob journals over JSON ones.
	StorageBinary bool `yaml:"storage_binary"`

	SpreadCalcInterval int `yaml:"spread_calc_interval"`
}

// Report configures report rendering and its HTTP frontend.
type Report struct {
	Path string `yaml:"path"`

	// Interval is the trade history window in milliseconds.
	Interval int64 `yaml:"interval"`

	// A2NP adds the asset-to-neutral-price column.
	A2NP bool `yaml:"a2np"`

	HTTPBind string `yaml:"http_bind"`
	HTTPAuth string `yaml:"http_auth"`
}

// Config is the whole configuration file.
type Config struct {
	Service Service                  `yaml:"service"`
	Traders Traders                  `yaml:"traders"`
	Report  Report                   `yaml:"report"`
	Brokers map[string]string        `yaml:"brokers"`
	Pairs   map[string]trader.Config `yaml:"pairs"`
}

// Default returns a configuration with the documented defaults. Load
// unmarshals over it, so absent keys keep these values.
func Default() *Config {
	return &Config{
		Traders: Traders{
			StorageBinary:      true,
			SpreadCalcInterval: 10,
		},
		Report: Report{
			Interval: 864000000,
		},
		Brokers: map[string]string{},
		Pairs:   map[string]trader.Config{},
	}
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Enabled returns the trader idents to run, sorted for deterministic
// startup order.
func (c *Config) Enabled() []string {
	idents := c.Traders.List
	if len(idents) == 0 {
		idents = make([]string, 0, len(c.Pairs))
		for ident := range c.Pairs {
			idents = append(idents, ident)
		}
	}
	out := append([]string(nil), idents...)
	sort.Strings(out)
	return out
}

// Validate checks the file as a whole: every enabled trader has a
// section, every section names a configured broker.
func (c *Config) Validate() error {
	if c.Traders.StoragePath == "" {
		return fmt.Errorf("traders.storage_path is required")
	}
	for _, ident := range c.Enabled() {
		tc, ok := c.Pairs[ident]
		if !ok {
			return fmt.Errorf("trader %q listed but has no pairs section", ident)
		}
		if err := tc.Validate(ident); err != nil {
			return err
		}
		if _, ok := c.Brokers[tc.Broker]; !ok {
			return fmt.Errorf("trader %q: unknown broker %q", ident, tc.Broker)
		}
	}
	return nil
}
