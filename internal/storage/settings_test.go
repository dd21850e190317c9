package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaultsAreNotPersisted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	settings, err := store.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, "01/08/2015", settings.HistoricalDataStart)
	require.Equal(t, "8545", settings.EthRPCPort)
	require.Equal(t, int64(2), settings.UIFloatingPrecision)
	require.False(t, settings.PremiumShouldSync)
	require.Zero(t, settings.LastWriteTS)
	require.Zero(t, settings.LastDataUploadTS)

	for _, name := range []string{settingHistoricalDataStart, settingEthRPCPort, settingUIFloatingPrecision} {
		_, ok, err := store.setting(ctx, name)
		require.NoError(t, err)
		require.Falsef(t, ok, "default for %s must not be written", name)
	}
}

func TestSetSettingsTypedRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SetSettings(ctx, map[string]string{
		"historical_data_start": "01/01/2017",
		"ui_floating_precision": "5",
		"premium_should_sync":   "true",
		"anonymized_logs":       "yes please",
	}))

	settings, err := store.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, "01/01/2017", settings.HistoricalDataStart)
	require.Equal(t, int64(5), settings.UIFloatingPrecision)
	require.True(t, settings.PremiumShouldSync)
	require.Equal(t, "8545", settings.EthRPCPort)
	require.Equal(t, map[string]string{"anonymized_logs": "yes please"}, settings.Extra)

	stored, ok, err := store.setting(ctx, settingPremiumShouldSync)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "True", stored)
}

func TestSetSettingsValidatesTypedKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	tests := []struct {
		name   string
		values map[string]string
	}{
		{name: "non integer precision", values: map[string]string{"ui_floating_precision": "two"}},
		{name: "non boolean sync", values: map[string]string{"premium_should_sync": "maybe"}},
		{name: "read-only version", values: map[string]string{"version": "7"}},
		{name: "read-only db_version", values: map[string]string{"db_version": "7"}},
		{name: "empty name", values: map[string]string{"": "x"}},
	}
	for _, tc := range tests {
		err := store.SetSettings(ctx, tc.values)
		require.ErrorIsf(t, err, ErrInput, tc.name)
	}

	settings, err := store.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(SchemaVersion), settings.DBVersion)
	require.Zero(t, settings.LastWriteTS, "rejected writes must not touch last_write_ts")
}

func TestMainCurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	currency, err := store.MainCurrency(ctx)
	require.NoError(t, err)
	require.Equal(t, "USD", currency)

	require.NoError(t, store.SetMainCurrency(ctx, "EUR"))
	currency, err = store.MainCurrency(ctx)
	require.NoError(t, err)
	require.Equal(t, "EUR", currency)

	require.ErrorIs(t, store.SetMainCurrency(ctx, ""), ErrInput)
}

func TestPremiumSyncAndUploadTimestamps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, clock := newClockedTestStore(t)

	sync, err := store.PremiumSync(ctx)
	require.NoError(t, err)
	require.False(t, sync)
	uploaded, err := store.LastDataUploadTS(ctx)
	require.NoError(t, err)
	require.Zero(t, uploaded)

	require.NoError(t, store.UpdatePremiumSync(ctx, true))
	sync, err = store.PremiumSync(ctx)
	require.NoError(t, err)
	require.True(t, sync)

	require.NoError(t, store.UpdatePremiumSync(ctx, false))
	sync, err = store.PremiumSync(ctx)
	require.NoError(t, err)
	require.False(t, sync)

	clock.Advance(time.Hour)
	require.NoError(t, store.UpdateLastDataUploadTS(ctx))
	uploaded, err = store.LastDataUploadTS(ctx)
	require.NoError(t, err)
	require.Equal(t, clock.Now().Unix(), uploaded)
}

func TestMutationsAdvanceLastWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, clock := newClockedTestStore(t)
	tradeID, err := store.AddExternalTrade(ctx, testTrade(100))
	require.NoError(t, err)
	require.NoError(t, store.AddBlockchainAccount(ctx, BlockchainETH, "0xdead"))

	edited := testTrade(120)
	edited.ID = tradeID

	mutations := []struct {
		name string
		run  func() error
	}{
		{"update last write", func() error { return store.UpdateLastWrite(ctx) }},
		{"set settings", func() error { return store.SetSettings(ctx, map[string]string{"eth_rpc_port": "1"}) }},
		{"set main currency", func() error { return store.SetMainCurrency(ctx, "EUR") }},
		{"update data upload", func() error { return store.UpdateLastDataUploadTS(ctx) }},
		{"update premium sync", func() error { return store.UpdatePremiumSync(ctx, true) }},
		{"add ignored asset", func() error { return store.AddIgnoredAsset(ctx, "XRP") }},
		{"remove ignored asset", func() error { return store.RemoveIgnoredAsset(ctx, "XRP") }},
		{"write owned tokens", func() error { return store.WriteOwnedTokens(ctx, []string{"GNO"}) }},
		{"add balances", func() error {
			return store.AddMultipleBalances(ctx, []TimedBalance{{Time: 1, Currency: "BTC", Amount: decimal.NewFromInt(1)}})
		}},
		{"add location data", func() error {
			return store.AddMultipleLocationData(ctx, []TimedLocationData{{Time: 1, Location: "kraken"}})
		}},
		{"write balances data", func() error { return store.WriteBalancesData(ctx, BalancesSnapshot{}) }},
		{"add blockchain account", func() error { return store.AddBlockchainAccount(ctx, BlockchainBTC, "1abc") }},
		{"remove blockchain account", func() error { return store.RemoveBlockchainAccount(ctx, BlockchainETH, "0xdead") }},
		{"add fiat balance", func() error { return store.AddFiatBalance(ctx, "EUR", decimal.NewFromInt(10)) }},
		{"remove fiat balance", func() error { return store.RemoveFiatBalance(ctx, "EUR") }},
		{"add exchange", func() error { return store.AddExchange(ctx, "binance", ExchangeCredentials{APIKey: "k", APISecret: "s"}) }},
		{"remove exchange", func() error { return store.RemoveExchange(ctx, "binance") }},
		{"add external trade", func() error { _, err := store.AddExternalTrade(ctx, testTrade(200)); return err }},
		{"edit external trade", func() error { return store.EditExternalTrade(ctx, edited) }},
		{"delete external trade", func() error { return store.DeleteExternalTrade(ctx, tradeID) }},
		{"drop time series", func() error { return store.DropTimeSeries(ctx) }},
		{"reimport all tables", func() error { return store.ReimportAllTables(ctx) }},
	}

	previous, err := store.LastWriteTS(ctx)
	require.NoError(t, err)
	for _, m := range mutations {
		clock.Advance(time.Second)
		require.NoErrorf(t, m.run(), m.name)

		ts, err := store.LastWriteTS(ctx)
		require.NoError(t, err)
		require.Equalf(t, clock.Now().Unix(), ts, m.name)
		require.GreaterOrEqualf(t, ts, previous, m.name)
		previous = ts
	}
}

func TestPremiumCredentialsDoNotAdvanceLastWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, clock := newClockedTestStore(t)

	clock.Advance(time.Minute)
	require.NoError(t, store.SetRotkehlchenPremium(ctx, ExchangeCredentials{APIKey: "pk", APISecret: "ps"}))

	ts, err := store.LastWriteTS(ctx)
	require.NoError(t, err)
	require.Zero(t, ts)
}

func TestLastWriteNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, clock := newClockedTestStore(t)

	require.NoError(t, store.UpdateLastWrite(ctx))
	first, err := store.LastWriteTS(ctx)
	require.NoError(t, err)

	clock.Advance(-time.Hour)
	require.NoError(t, store.AddIgnoredAsset(ctx, "ETC"))
	second, err := store.LastWriteTS(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
