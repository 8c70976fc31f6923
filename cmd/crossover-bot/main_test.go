package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage/sqlite"
)

// isolate points the commands at a temp database and an empty environment
func isolate(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bot.db")
	t.Setenv("BOT_DB_PATH", dbPath)
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("TELEGRAM_TOKEN", "")
	return dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	var names []string
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "status", "export", "init-db", "cancel-stop", "version"}, names)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "crossover-bot v"+version)
}

func TestInitDBSeedsOnce(t *testing.T) {
	dbPath := isolate(t)

	out, err := execute(t, "init-db")
	require.NoError(t, err)
	assert.Contains(t, out, "user_config: seeded row 1")
	assert.Contains(t, out, "symbol_config: BTCUSDT capped at 50.00%")

	out, err = execute(t, "init-db")
	require.NoError(t, err)
	assert.Contains(t, out, "user_config: active row kept")
	assert.Contains(t, out, "symbol_config: 2 active rows kept")

	err = storage.With(context.Background(), sqlite.NewOpener(dbPath), func(st storage.Store) error {
		uc, err := st.ActiveUserConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), uc.ID)
		assert.Equal(t, 9, uc.FastWindow)
		assert.Equal(t, 21, uc.SlowWindow)

		syms, err := st.ActiveSymbolConfigs(context.Background())
		require.NoError(t, err)
		assert.Len(t, syms, 2)
		return nil
	})
	require.NoError(t, err)

	out, err = execute(t, "init-db", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "user_config: seeded row 2")
}

func seedTrade(t *testing.T, dbPath string) {
	t.Helper()
	err := storage.With(context.Background(), sqlite.NewOpener(dbPath), func(st storage.Store) error {
		return st.LogTrade(context.Background(), &storage.Trade{
			EntryOrderID:    "E1",
			Symbol:          "BTCUSDT",
			Side:            "buy",
			Quantity:        0.01,
			EntryPrice:      60000,
			InitialStopLoss: 57000,
			OrderStatus:     storage.StatusSubmittedBuy,
			OpenedAt:        time.Date(2024, 3, 1, 4, 1, 0, 0, time.UTC),
		})
	})
	require.NoError(t, err)
}

func TestStatusShowsOpenTrades(t *testing.T) {
	dbPath := isolate(t)
	seedTrade(t, dbPath)

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "submitted buy")
	assert.Contains(t, out, "57000.0000")
}

func TestExportWritesJournal(t *testing.T) {
	dbPath := isolate(t)
	seedTrade(t, dbPath)
	path := filepath.Join(t.TempDir(), "journal.csv")

	out, err := execute(t, "export", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 1 trades")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "E1,BTCUSDT,submitted_buy")
}

func TestRunRequiresCredentials(t *testing.T) {
	isolate(t)
	_, err := execute(t, "run", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestCancelStopRequiresSymbol(t *testing.T) {
	isolate(t)
	_, err := execute(t, "cancel-stop", "A1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol")
}
