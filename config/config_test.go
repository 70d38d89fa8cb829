package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleYAML = `
service:
  inst_file: /var/run/mmbot/inst
  name: mmbot

traders:
  list: [btc1]
  storage_path: /var/lib/mmbot

report:
  path: /var/www/mmbot
  http_bind: "127.0.0.1:8080"

brokers:
  sandbox: "python3 broker.py"

pairs:
  btc1:
    broker: sandbox
    pair_symbol: BTCUSD
    order_size: 0.01
  eth1:
    broker: sandbox
    pair_symbol: ETHUSD
    order_size: 0.1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mmbot.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSample(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleYAML))
	assert.NoError(t, err)
	assert.Equal(t, "/var/run/mmbot/inst", cfg.Service.InstFile)
	assert.Equal(t, []string{"btc1"}, cfg.Enabled())
	assert.Equal(t, "python3 broker.py", cfg.Brokers["sandbox"])
	assert.Equal(t, 0.01, cfg.Pairs["btc1"].OrderSize)
}

func TestDefaultsSurviveUnmarshal(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleYAML))
	assert.NoError(t, err)
	assert.True(t, cfg.Traders.StorageBinary)
	assert.Equal(t, 10, cfg.Traders.SpreadCalcInterval)
	assert.Equal(t, int64(864000000), cfg.Report.Interval)
}

func TestEmptyListMeansAllPairs(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
traders:
  storage_path: /tmp/s
brokers:
  b: "cmd"
pairs:
  zeta: {broker: b, pair_symbol: Z, order_size: 1}
  alpha: {broker: b, pair_symbol: A, order_size: 1}
`))
	assert.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, cfg.Enabled())
}

func TestUnknownBrokerRejected(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
traders:
  storage_path: /tmp/s
brokers:
  other: "cmd"
pairs:
  t1: {broker: missing, pair_symbol: X, order_size: 1}
`))
	assert.ErrorContains(t, err, "unknown broker")
}

func TestUnderscoreTraderRejected(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
traders:
  storage_path: /tmp/s
brokers:
  b: "cmd"
pairs:
  _hidden: {broker: b, pair_symbol: X, order_size: 1}
`))
	assert.ErrorContains(t, err, "underscore")
}

func TestMissingStoragePath(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "brokers: {}\npairs: {}\n"))
	assert.ErrorContains(t, err, "storage_path")
}

func TestListedButMissingSection(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
traders:
  list: [ghost]
  storage_path: /tmp/s
brokers: {}
pairs: {}
`))
	assert.ErrorContains(t, err, "no pairs section")
}
