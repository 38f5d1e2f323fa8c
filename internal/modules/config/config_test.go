package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
env: production
storage:
  driver: sqlite
  sqlite_path: /tmp/kis.db
kis:
  mock: false
  account: "50112233"
trading:
  max_tranches: 4
  sell_upper_multiplier: 1.2
  lock_timeout: 3s
  holidays: ["2025-10-03"]
schedule:
  buy_1: "09:10"
`

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.False(t, cfg.KIS.Mock)
	assert.Equal(t, "50112233", cfg.KIS.Account)
	assert.Equal(t, 4, cfg.Trading.MaxTranches)
	assert.Equal(t, 1.2, cfg.Trading.SellUpper)
	assert.Equal(t, 3*time.Second, cfg.Trading.LockTimeout)
	assert.Equal(t, []string{"2025-10-03"}, cfg.Trading.Holidays)
	assert.Equal(t, "09:10", cfg.Sched.Buy1)

	// untouched defaults survive
	assert.Equal(t, 3, cfg.Trading.MaxSessions)
	assert.Equal(t, "15:10", cfg.Trading.ExitCutoff)
	assert.Equal(t, 5*time.Second, cfg.Trading.InboxWait)
	assert.Equal(t, "14:50", cfg.Sched.Buy2)
	require.NoError(t, cfg.Validate())
}

func TestLoadEmpty(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 1.1, cfg.Trading.SellUpper)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no sessions", func(c *Config) { c.Trading.MaxSessions = 0 }},
		{"no tranches", func(c *Config) { c.Trading.MaxTranches = 0 }},
		{"upper below one", func(c *Config) { c.Trading.SellUpper = 0.9 }},
		{"lower above one", func(c *Config) { c.Trading.RiskLower = 1.05 }},
		{"bad cutoff", func(c *Config) { c.Trading.ExitCutoff = "3pm" }},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mysql" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewConfigAppliesSecrets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(sample), 0o600))

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_FILE", "test.yaml")
	t.Setenv("KIS_APP_KEY", "key-from-env")
	t.Setenv("TELEGRAM_CHAT_ID", "777")
	t.Setenv("DATABASE_DSN", "postgres://u:p@db:5432/kis")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.KIS.AppKey)
	assert.Equal(t, int64(777), cfg.Telegram.ChatID)
	assert.Equal(t, "postgres://u:p@db:5432/kis", cfg.Storage.DSN)
	assert.Equal(t, "50112233", cfg.KIS.Account)
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("15:10")
	require.NoError(t, err)
	assert.Equal(t, 15, h)
	assert.Equal(t, 10, m)
}
