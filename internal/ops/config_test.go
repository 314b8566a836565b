package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/schema"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradesim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	loaded, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 4, loaded.Registry.Len())
	sol, ok := loaded.Registry.Instrument("SOL")
	require.True(t, ok)
	assert.Equal(t, schema.Scale(6), sol.PriceScale)
	btc, ok := loaded.Registry.ByFeedSymbol("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTC", btc.Symbol)

	assert.Equal(t, int64(90), loaded.Risk.LiquidationThresholdPercent)
	assert.Equal(t, []int64{1, 5, 10, 20, 100}, loaded.Risk.AllowedLeverage)
	assert.Equal(t, []schema.BPS{5, 10, 50, 100}, loaded.Risk.AllowedSlippageBps)
	assert.Equal(t, schema.USD(500_000), loaded.InitialBalance)
	assert.Equal(t, schema.BPS(50), loaded.SpreadBps)
	require.Len(t, loaded.Timeframes, 5)
	assert.Equal(t, int64(30_000), loaded.Timeframes[0].Ms)
	assert.Equal(t, FeedRedis, loaded.Feed)
	assert.Equal(t, 50, loaded.Persist.BatchSize)
	assert.Equal(t, time.Second, loaded.Persist.FlushInterval)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
instruments:
  - symbol: BTC
    feed_symbol: BTCUSDT
    price_scale: 8
    quantity_scale: 8
market:
  feed: binance
  spread_bps: 20
  timeframes: [1m]
postgres:
  conn_max_lifetime: 5m
`)
	t.Setenv("TRADESIM_ACCOUNT_INITIAL_BALANCE", "1000.50")
	t.Setenv("TRADESIM_HTTP_ADDR", ":9000")

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1, loaded.Registry.Len())
	assert.Equal(t, FeedBinance, loaded.Feed)
	assert.Equal(t, schema.BPS(20), loaded.SpreadBps)
	require.Len(t, loaded.Timeframes, 1)
	assert.Equal(t, "1m", loaded.Timeframes[0].Name)
	assert.Equal(t, schema.USD(100_050), loaded.InitialBalance)
	assert.Equal(t, ":9000", loaded.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, loaded.Postgres.PostgresOption().ConnMaxLifetime)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"duplicate instrument": `
instruments:
  - {symbol: BTC, price_scale: 8}
  - {symbol: BTC, price_scale: 8}
`,
		"default slippage not allowed": `
risk:
  allowed_slippage_bps: [10]
  default_slippage_bps: 5
`,
		"unknown timeframe": `
market:
  timeframes: [1x]
`,
		"unknown feed": `
market:
  feed: carrier-pigeon
`,
		"bad balance": `
account:
  initial_balance: lots
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
