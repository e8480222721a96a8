package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mlog "github.com/zanotrade/marketbot/log"
	"github.com/zanotrade/marketbot/marketbot"
)

func writePairs(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPairsFixed(t *testing.T) {
	t.Parallel()

	path := writePairs(t, `[
		{
			"pair_url": "https://trade.zano.org/dex/trading/42",
			"amount": "100.5",
			"price": "0.25",
			"type": "Buy",
			"trade_id": "alpha"
		}
	]`)

	pairs, err := LoadPairs(path)
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	pair := pairs[0]
	require.Equal(t, int64(42), pair.PairID)
	require.Equal(t, marketbot.SideBuy, pair.Side)
	require.Equal(t, "100.5", pair.Amount.String())
	require.Equal(t, "0.25", pair.Price.String())
	require.Equal(t, "alpha", pair.TradeID)
	require.Equal(t, marketbot.ModeFixed, pair.Mode())
}

func TestLoadPairsLive(t *testing.T) {
	t.Parallel()

	path := writePairs(t, `[
		{
			"pair_url": "https://trade.zano.org/dex/trading/7/",
			"amount": "50",
			"price": "1",
			"type": "sell",
			"parser_config": {
				"PRICE_INTERVAL_SEC": "10",
				"PRICE_SELL_PERCENT": "20",
				"PRICE_BUY_PERCENT": "10",
				"PRICE_CHANGE_SENSITIVITY_PERCENT": "1.5",
				"DEPTH_CHANGE_SENSITIVITY_PERCENT": "10",
				"PARSER_TYPE": "mexc",
				"PAIR_AGAINST_STABLECOIN": "true",
				"FIRST_CURRENCY": "TEST",
				"SECOND_CURRENCY": "USDT"
			}
		}
	]`)

	pairs, err := LoadPairs(path)
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	pair := pairs[0]
	require.Equal(t, int64(7), pair.PairID, "trailing slash is tolerated")
	require.Equal(t, marketbot.ModeLive, pair.Mode())

	live := pair.Live
	require.NotNil(t, live)
	require.Equal(t, "mexc", live.Source)
	require.Equal(t, 10*time.Second, live.PriceInterval)
	require.Equal(t, 20.0, live.PriceSellPercent)
	require.Equal(t, 1.5, live.PriceSensitivityPercent)
	require.True(t, live.AgainstStablecoin)
	require.Equal(t, "TEST", live.FirstCurrency)
}

func TestLoadPairsRejectsMalformedEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "non-numeric amount",
			content: `[{"pair_url":"https://x/1","amount":"lots","price":"1","type":"buy"}]`,
			wantErr: "not numeric",
		},
		{
			name:    "non-numeric price",
			content: `[{"pair_url":"https://x/1","amount":"1","price":"cheap","type":"buy"}]`,
			wantErr: "not numeric",
		},
		{
			name:    "bad side",
			content: `[{"pair_url":"https://x/1","amount":"1","price":"1","type":"hold"}]`,
			wantErr: "neither buy nor sell",
		},
		{
			name:    "pair url without id",
			content: `[{"pair_url":"https://x/dex/trading","amount":"1","price":"1","type":"buy"}]`,
			wantErr: "pair id",
		},
		{
			name:    "unknown parser type",
			content: `[{"pair_url":"https://x/1","amount":"1","price":"1","type":"buy","parser_config":{"PARSER_TYPE":"xeggex","FIRST_CURRENCY":"A","SECOND_CURRENCY":"B","PRICE_INTERVAL_SEC":"10","PRICE_SELL_PERCENT":"1","PRICE_BUY_PERCENT":"1","PRICE_CHANGE_SENSITIVITY_PERCENT":"1","DEPTH_CHANGE_SENSITIVITY_PERCENT":"1"}}]`,
			wantErr: "PARSER_TYPE",
		},
		{
			name:    "empty list",
			content: `[]`,
			wantErr: "no pairs",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadPairs(writePairs(t, tc.content))
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestApplyEnvDefaults(t *testing.T) {
	t.Setenv("ZANOD_URL", "http://127.0.0.1:11211")
	t.Setenv("SIMPLEWALLET_PORT", "12233")
	t.Setenv("ACTIVITY_PING_INTERVAL", "30")
	t.Setenv("MARKETBOT_LOG_GROUPS", "engine,supervisor")

	cfg := DefaultConfig()
	fs := NewConfigFlagSet(&cfg)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, ApplyEnvDefaults(fs, &cfg))

	require.Equal(t, "http://127.0.0.1:11211", cfg.DaemonURL)
	require.Equal(t, "http://127.0.0.1:12233", cfg.WalletURL, "port-only wallet config builds a localhost URL")
	require.Equal(t, 30*time.Second, cfg.PingInterval, "bare numbers are seconds")
	require.Equal(t, []string{"engine", "supervisor"}, cfg.LogGroups)
}

func TestGetLogHandlerScopesToConfiguredGroups(t *testing.T) {
	plain := GetLogHandler(AppConfig{LogLevel: "info"})
	require.NotNil(t, plain)
	require.IsType(t, &slog.TextHandler{}, plain, "no groups configured means no filter wrapper")

	scoped := GetLogHandler(AppConfig{LogLevel: "info", LogGroups: []string{"engine"}})
	require.IsType(t, &mlog.GroupFilterHandler{}, scoped)
}

func TestApplyEnvDefaultsFlagWins(t *testing.T) {
	t.Setenv("ZANOD_URL", "http://from-env")

	cfg := DefaultConfig()
	fs := NewConfigFlagSet(&cfg)
	require.NoError(t, fs.Parse([]string{"--daemon-url", "http://from-flag"}))
	require.NoError(t, ApplyEnvDefaults(fs, &cfg))

	require.Equal(t, "http://from-flag", cfg.DaemonURL)
}
