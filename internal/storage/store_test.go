package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sevdimali/rotki/internal/crypto"
)

var testPassphrase = []byte("correct horse battery staple")

const testKDFIterations = 1000

func TestOpenCreatesSealedDatabase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := openTestStore(t, dir, testOptions())

	require.Equal(t, filepath.Join(dir, DatabaseFileName), store.Path())
	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	require.False(t, bytes.HasPrefix(raw, []byte("SQLite format 3")), "database must not be stored in plaintext")

	var envelope crypto.Envelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.Equal(t, "pbkdf2-sha512", envelope.KDF)
	require.Equal(t, testKDFIterations, envelope.Iterations)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(store.Path())
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	settings, err := store.Settings(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(SchemaVersion), settings.DBVersion)
}

func TestOpenUsesDefaultKDFIterations(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.KDFIterations = 0
	store := openTestStore(t, t.TempDir(), opts)

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var envelope crypto.Envelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.Equal(t, 64000, envelope.Iterations)
}

func TestOpenRejectsMissingInputs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, err := Open(ctx, "", "alice", testPassphrase, testOptions())
	require.Error(t, err)

	_, err = Open(ctx, t.TempDir(), "alice", nil, testOptions())
	require.Error(t, err)
}

func TestReopenPreservesData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir, testOptions())

	require.NoError(t, store.SetMainCurrency(ctx, "EUR"))
	require.NoError(t, store.SetSettings(ctx, map[string]string{"eth_rpc_port": "8555", "ui_floating_precision": "4"}))
	require.NoError(t, store.AddIgnoredAsset(ctx, "DOGE"))
	require.NoError(t, store.WriteOwnedTokens(ctx, []string{"GNO", "RDN"}))
	require.NoError(t, store.AddBlockchainAccount(ctx, BlockchainETH, "0xabc"))
	require.NoError(t, store.AddFiatBalance(ctx, "EUR", decimal.RequireFromString("1500.5")))
	require.NoError(t, store.AddExchange(ctx, "kraken", ExchangeCredentials{APIKey: "k", APISecret: "s"}))
	id, err := store.AddExternalTrade(ctx, testTrade(150))
	require.NoError(t, err)

	before, err := store.Settings(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := openTestStore(t, dir, testOptions())

	after, err := reopened.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)

	currency, err := reopened.MainCurrency(ctx)
	require.NoError(t, err)
	require.Equal(t, "EUR", currency)

	ignored, err := reopened.IgnoredAssets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"DOGE"}, ignored)

	tokens, err := reopened.OwnedTokens(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"GNO", "RDN"}, tokens)

	accounts, err := reopened.BlockchainAccounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{BlockchainETH: {"0xabc"}}, accounts)

	fiat, err := reopened.FiatBalances(ctx)
	require.NoError(t, err)
	require.True(t, fiat["EUR"].Equal(decimal.RequireFromString("1500.5")))

	secrets, err := reopened.ExchangeSecrets(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]ExchangeCredentials{"kraken": {APIKey: "k", APISecret: "s"}}, secrets)

	trades, err := reopened.ExternalTrades(ctx, TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, id, trades[0].ID)
}

func TestOpenWrongPassphraseLeavesFileUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir, testOptions())
	require.NoError(t, store.SetMainCurrency(ctx, "EUR"))
	require.NoError(t, store.Close())

	original, err := os.ReadFile(filepath.Join(dir, DatabaseFileName))
	require.NoError(t, err)

	_, err = Open(ctx, dir, "alice", []byte("not the passphrase"), testOptions())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAuthentication)
	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, filepath.Join(dir, DatabaseFileName), authErr.Path)

	after, err := os.ReadFile(filepath.Join(dir, DatabaseFileName))
	require.NoError(t, err)
	require.Equal(t, original, after)
}

func TestOpenCorruptFileIsAuthenticationError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DatabaseFileName), []byte("garbage"), 0o600))

	_, err := Open(context.Background(), dir, "alice", testPassphrase, testOptions())
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestOpenEnvelopeWithShortNonceIsAuthenticationError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir, testOptions())
	require.NoError(t, store.Close())

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var envelope crypto.Envelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	envelope.Nonce = envelope.Nonce[:12]
	raw, err = json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), raw, 0o600))

	_, err = Open(ctx, dir, "alice", testPassphrase, testOptions())
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestCloseTwiceReturnsErrNotConnected(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, t.TempDir(), testOptions())
	require.True(t, store.Connected())
	require.NoError(t, store.Close())
	require.False(t, store.Connected())
	require.ErrorIs(t, store.Close(), ErrNotConnected)

	_, err := store.Settings(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, store.UpdateLastWrite(context.Background()), ErrNotConnected)
}

func TestReopenedStoreWritesAndClosesAgain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	for _, currency := range []string{"EUR", "GBP", "JPY"} {
		store := openTestStore(t, dir, testOptions())
		require.NoError(t, store.SetMainCurrency(ctx, currency))
		require.NoError(t, store.Close())
	}

	store := openTestStore(t, dir, testOptions())
	currency, err := store.MainCurrency(ctx)
	require.NoError(t, err)
	require.Equal(t, "JPY", currency)
	require.NoError(t, store.AddBlockchainAccount(ctx, BlockchainETH, "0xabc"))
	require.NoError(t, store.Reconnect(ctx, testPassphrase))
	require.NoError(t, store.AddBlockchainAccount(ctx, BlockchainETH, "0xdef"))
	require.NoError(t, store.Close())
}

func TestReconnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), testOptions())
	require.NoError(t, store.AddIgnoredAsset(ctx, "BSV"))

	require.NoError(t, store.Reconnect(ctx, testPassphrase))
	ignored, err := store.IgnoredAssets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"BSV"}, ignored)

	require.NoError(t, store.Close())
	err = store.Reconnect(ctx, []byte("wrong"))
	require.ErrorIs(t, err, ErrAuthentication)
	require.False(t, store.Connected())

	require.NoError(t, store.Reconnect(ctx, testPassphrase))
	require.True(t, store.Connected())
}

func TestReimportAllTablesPreservesRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), testOptions())
	require.NoError(t, store.AddBlockchainAccount(ctx, BlockchainBTC, "1abc"))
	require.NoError(t, store.AddBlockchainAccount(ctx, BlockchainBTC, "1def"))
	_, err := store.AddExternalTrade(ctx, testTrade(10))
	require.NoError(t, err)

	require.NoError(t, store.ReimportAllTables(ctx))

	accounts, err := store.BlockchainAccounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{BlockchainBTC: {"1abc", "1def"}}, accounts)

	trades, err := store.ExternalTrades(ctx, TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	settings, err := store.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(SchemaVersion), settings.DBVersion)
}

func TestReimportAllTablesFailureRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opts := testOptions()
	opts.ReimportScript = "PRAGMA foreign_keys=OFF;\nBEGIN TRANSACTION;\n" +
		"ALTER TABLE settings RENAME TO settings_reimport_old;\n" +
		"INSERT INTO no_such_table VALUES (1);\nCOMMIT;\n"
	store := openTestStore(t, t.TempDir(), opts)

	require.Error(t, store.ReimportAllTables(ctx))

	settings, err := store.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(SchemaVersion), settings.DBVersion)
}

func TestDropTimeSeries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), testOptions())
	require.NoError(t, store.AddMultipleBalances(ctx, []TimedBalance{
		{Time: 1, Currency: "BTC", Amount: decimal.NewFromInt(1), USDValue: decimal.NewFromInt(9000)},
	}))
	require.NoError(t, store.AddMultipleLocationData(ctx, []TimedLocationData{
		{Time: 1, Location: "kraken", USDValue: decimal.NewFromInt(9000)},
	}))
	require.NoError(t, store.AddFiatBalance(ctx, "EUR", decimal.NewFromInt(5)))

	require.NoError(t, store.DropTimeSeries(ctx))

	balances, err := store.TimedBalances(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, balances)
	locations, err := store.TimedLocationData(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, locations)

	fiat, err := store.FiatBalances(ctx)
	require.NoError(t, err)
	require.Len(t, fiat, 1)

	require.NoError(t, store.AddMultipleBalances(ctx, []TimedBalance{
		{Time: 2, Currency: "ETH", Amount: decimal.NewFromInt(2), USDValue: decimal.NewFromInt(400)},
	}))
}

func TestExportAndImportUnencrypted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	source := openTestStore(t, t.TempDir(), testOptions())
	require.NoError(t, source.SetMainCurrency(ctx, "JPY"))
	require.NoError(t, source.AddBlockchainAccount(ctx, BlockchainETH, "0xfeed"))
	_, err := source.AddExternalTrade(ctx, testTrade(42))
	require.NoError(t, err)

	exportPath := filepath.Join(t.TempDir(), "export", "plain.db")
	require.NoError(t, source.ExportUnencrypted(ctx, exportPath))
	plaintext, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(plaintext, []byte("SQLite format 3\x00")))

	plainDB, err := sql.Open("sqlite", exportPath)
	require.NoError(t, err)
	var currency string
	require.NoError(t, plainDB.QueryRow(`SELECT value FROM settings WHERE name = 'main_currency'`).Scan(&currency))
	require.Equal(t, "JPY", currency)
	require.NoError(t, plainDB.Close())

	targetDir := t.TempDir()
	target := openTestStore(t, targetDir, testOptions())
	require.NoError(t, target.SetMainCurrency(ctx, "GBP"))

	newPassphrase := []byte("a brand new passphrase")
	require.NoError(t, target.ImportUnencrypted(ctx, plaintext, newPassphrase))
	require.True(t, target.Connected())
	require.NoFileExists(t, filepath.Join(targetDir, BackupFileName))

	currency, err = target.MainCurrency(ctx)
	require.NoError(t, err)
	require.Equal(t, "JPY", currency)
	accounts, err := target.BlockchainAccounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{BlockchainETH: {"0xfeed"}}, accounts)

	require.NoError(t, target.Close())
	_, err = Open(ctx, targetDir, "alice", testPassphrase, testOptions())
	require.ErrorIs(t, err, ErrAuthentication)

	reopened, err := Open(ctx, targetDir, "alice", newPassphrase, testOptions())
	require.NoError(t, err)
	trades, err := reopened.ExternalTrades(ctx, TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.NoError(t, reopened.Close())
}

func TestExportUnencryptedRefusesExistingDestination(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, t.TempDir(), testOptions())
	dest := filepath.Join(t.TempDir(), "plain.db")
	require.NoError(t, os.WriteFile(dest, []byte("keep me"), 0o600))

	require.Error(t, store.ExportUnencrypted(context.Background(), dest))
	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, []byte("keep me"), raw)
}

func TestDropTimeSeriesFailureKeepsTables(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.AddMultipleBalances(ctx, []TimedBalance{
		{Time: 1, Currency: "BTC", Amount: decimal.NewFromInt(1), USDValue: decimal.NewFromInt(9000)},
	}))
	require.NoError(t, store.AddMultipleLocationData(ctx, []TimedLocationData{
		{Time: 1, Location: "kraken", USDValue: decimal.NewFromInt(9000)},
	}))

	store.createScript = CreateTablesScript() + "CREATE TABLE broken (;\n"
	require.Error(t, store.DropTimeSeries(ctx))

	balances, err := store.TimedBalances(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	locations, err := store.TimedLocationData(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, locations, 1)

	store.createScript = CreateTablesScript()
	require.NoError(t, store.DropTimeSeries(ctx))
	balances, err = store.TimedBalances(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, balances)
}

func TestImportUnencryptedFailureKeepsBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir, testOptions())
	require.NoError(t, store.SetMainCurrency(ctx, "CHF"))

	original, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	err = store.ImportUnencrypted(ctx, []byte("this is definitely not a sqlite database"), []byte("new"))
	require.Error(t, err)
	require.Contains(t, err.Error(), BackupFileName)
	require.False(t, store.Connected())

	backup, err := os.ReadFile(filepath.Join(dir, BackupFileName))
	require.NoError(t, err)
	require.Equal(t, original, backup)
}

func TestImportUnencryptedKeepsEarlierBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir, testOptions())
	backupPath := filepath.Join(dir, BackupFileName)
	require.NoError(t, os.WriteFile(backupPath, []byte("earlier"), 0o600))

	err := store.ImportUnencrypted(ctx, []byte("irrelevant"), []byte("new"))
	require.Error(t, err)
	require.True(t, store.Connected())

	kept, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	require.Equal(t, []byte("earlier"), kept)
}

func TestImportUnencryptedRequiresPassphrase(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, t.TempDir(), testOptions())
	err := store.ImportUnencrypted(context.Background(), []byte{}, nil)
	require.ErrorIs(t, err, ErrInput)
	require.True(t, store.Connected())
}

var errDiskFull = errors.New("disk full")

// failingPersistEngine wraps an Engine so Persist can be made to fail on
// demand.
type failingPersistEngine struct {
	Engine
	fail *atomic.Bool
}

func (e failingPersistEngine) Connect(ctx context.Context, path string, key Key) (Conn, error) {
	conn, err := e.Engine.Connect(ctx, path, key)
	if err != nil {
		return nil, err
	}
	return failingPersistConn{Conn: conn, fail: e.fail}, nil
}

type failingPersistConn struct {
	Conn
	fail *atomic.Bool
}

func (c failingPersistConn) Persist(ctx context.Context) error {
	if c.fail.Load() {
		return errDiskFull
	}
	return c.Conn.Persist(ctx)
}

func TestFailedPersistDiscardsWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	fail := &atomic.Bool{}
	opts := testOptions()
	opts.Engine = failingPersistEngine{Engine: NewSealedEngine(), fail: fail}
	store := openTestStore(t, dir, opts)

	require.NoError(t, store.AddBlockchainAccount(ctx, BlockchainETH, "0xabc"))
	lastWrite, err := store.LastWriteTS(ctx)
	require.NoError(t, err)

	fail.Store(true)
	err = store.AddBlockchainAccount(ctx, BlockchainETH, "0xdef")
	require.ErrorIs(t, err, errDiskFull)
	err = store.DropTimeSeries(ctx)
	require.ErrorIs(t, err, errDiskFull)

	accounts, err := store.BlockchainAccounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{BlockchainETH: {"0xabc"}}, accounts)
	after, err := store.LastWriteTS(ctx)
	require.NoError(t, err)
	require.Equal(t, lastWrite, after)

	fail.Store(false)
	require.NoError(t, store.AddBlockchainAccount(ctx, BlockchainETH, "0xdef"))
	require.NoError(t, store.Close())

	reopened := openTestStore(t, dir, testOptions())
	accounts, err = reopened.BlockchainAccounts(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"0xabc", "0xdef"}, accounts[BlockchainETH])
}

func TestConcurrentAccessIsSerialized(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), testOptions())

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- store.AddBlockchainAccount(ctx, BlockchainBTC, "acct-"+string(rune('a'+i)))
		}(i)
		go func() {
			defer wg.Done()
			_, err := store.BlockchainAccounts(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	accounts, err := store.BlockchainAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts[BlockchainBTC], 20)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_600_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testOptions() Options {
	return Options{
		Logger:        slog.New(slog.DiscardHandler),
		KDFIterations: testKDFIterations,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStore(t, t.TempDir(), testOptions())
}

func newClockedTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts := testOptions()
	opts.Now = clock.Now
	return openTestStore(t, t.TempDir(), opts), clock
}

func openTestStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	store, err := Open(context.Background(), dir, "alice", testPassphrase, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		if store.Connected() {
			require.NoError(t, store.Close())
		}
	})
	return store
}

func testTrade(ts int64) ExternalTrade {
	return ExternalTrade{
		Time:        ts,
		Pair:        "ETH_EUR",
		Type:        TradeTypeBuy,
		Amount:      decimal.RequireFromString("1.5"),
		Rate:        decimal.RequireFromString("320.12"),
		Fee:         decimal.RequireFromString("0.01"),
		FeeCurrency: "ETH",
		Link:        "https://example.com/trade",
		Notes:       "bought on a dip",
	}
}
