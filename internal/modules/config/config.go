package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"
	kisAppKeyENV      = "KIS_APP_KEY"
	kisAppSecretENV   = "KIS_APP_SECRET"
	kisAccountENV     = "KIS_ACCOUNT"
)

// Config ...
type Config struct {
	Env string `yaml:"env"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Service struct {
		Name      string `yaml:"name"`
		AdminAddr string `yaml:"admin_addr"`
	} `yaml:"service"`

	Storage Storage `yaml:"storage"`
	KIS     KIS     `yaml:"kis"`
	Feed    Feed    `yaml:"feed"`
	Trading Trading `yaml:"trading"`
	Sched   Sched   `yaml:"schedule"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	Profiling struct {
		Enabled       bool   `yaml:"enabled"`
		ServerAddress string `yaml:"server_address"`
	} `yaml:"profiling"`
}

type Storage struct {
	Driver     string `yaml:"driver"` // postgres | sqlite
	DSN        string `yaml:"db_dsn"`
	SQLitePath string `yaml:"sqlite_path"`
	MaxConns   int32  `yaml:"max_conns"`
}

type KIS struct {
	Mock        bool          `yaml:"mock"`
	RestURL     string        `yaml:"rest_url"`
	QuoteURL    string        `yaml:"quote_url"`
	AuthURL     string        `yaml:"auth_url"`
	WSURL       string        `yaml:"ws_url"`
	AppKey      string        `yaml:"app_key"`
	AppSecret   string        `yaml:"app_secret"`
	Account     string        `yaml:"account"`
	ProductCode string        `yaml:"product_code"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	AuthAttempts   int           `yaml:"auth_attempts"`
	AuthRetryDelay time.Duration `yaml:"auth_retry_delay"`
	RenewBefore    time.Duration `yaml:"renew_before"`
}

type Feed struct {
	HandshakeAttempts  int           `yaml:"handshake_attempts"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	BackoffMin         time.Duration `yaml:"backoff_min"`
	BackoffMax         time.Duration `yaml:"backoff_max"`
	AlertAfterFailures int           `yaml:"alert_after_failures"`
	InboxSize          int           `yaml:"inbox_size"`
	PingInterval       time.Duration `yaml:"ping_interval"`
}

type Trading struct {
	MaxSessions      int           `yaml:"max_sessions"`
	MaxTranches      int           `yaml:"max_tranches"`
	SellUpper        float64       `yaml:"sell_upper_multiplier"`
	RiskLower        float64       `yaml:"risk_lower_multiplier"`
	ExitCutoff       string        `yaml:"exit_cutoff"` // HH:MM local
	DaysLater        int           `yaml:"days_later"`
	LockTimeout      time.Duration `yaml:"lock_timeout"`
	InboxWait        time.Duration `yaml:"inbox_wait"`
	BuySettle        time.Duration `yaml:"buy_settle"`
	SellSettle       time.Duration `yaml:"sell_settle"`
	CancelPause      time.Duration `yaml:"cancel_pause"`
	OrderPause       time.Duration `yaml:"order_pause"`
	RateLimitRetries int           `yaml:"rate_limit_retries"`
	SelectRatio      float64       `yaml:"select_ratio"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	PurgeAfterDays   int           `yaml:"purge_after_days"`
	Holidays         []string      `yaml:"holidays"`
}

type Sched struct {
	Timezone     string `yaml:"timezone"`
	FetchStocks  string `yaml:"fetch_stocks"`
	SelectStocks string `yaml:"select_stocks"`
	Buy1         string `yaml:"buy_1"`
	Buy2         string `yaml:"buy_2"`
	Purge        string `yaml:"purge"`
}

// Default returns the built-in values; env overrides are applied here, the file on top.
func Default() Config {
	cfg := Config{
		Env: getenvDefault("ENV", "development"),
	}
	cfg.Service.Name = "kis_trader"
	cfg.Service.AdminAddr = getenvDefault("ADMIN_ADDR", ":8080")

	cfg.Storage = Storage{
		Driver:     getenvDefault("STORAGE_DRIVER", "postgres"),
		SQLitePath: getenvDefault("SQLITE_PATH", "kis_trader.db"),
		MaxConns:   int32(intFromEnv("DB_MAX_CONNS", 8)),
	}

	cfg.KIS = KIS{
		Mock:           boolFromEnv("KIS_MOCK", true),
		RestURL:        "https://openapivts.koreainvestment.com:29443",
		QuoteURL:       "https://openapi.koreainvestment.com:9443",
		AuthURL:        "https://openapi.koreainvestment.com:9443",
		WSURL:          "ws://ops.koreainvestment.com:31000/tryitout/H0STASP0",
		ProductCode:    "01",
		HTTPTimeout:    durationFromEnv("KIS_HTTP_TIMEOUT", "10s"),
		AuthAttempts:   3,
		AuthRetryDelay: 5 * time.Second,
		RenewBefore:    10 * time.Minute,
	}

	cfg.Feed = Feed{
		HandshakeAttempts:  intFromEnv("FEED_HANDSHAKE_ATTEMPTS", 3),
		ReconnectDelay:     durationFromEnv("FEED_RECONNECT_DELAY", "1s"),
		BackoffMin:         500 * time.Millisecond,
		BackoffMax:         30 * time.Second,
		AlertAfterFailures: intFromEnv("FEED_ALERT_AFTER", 5),
		InboxSize:          256,
		PingInterval:       20 * time.Second,
	}

	cfg.Trading = Trading{
		MaxSessions:      3,
		MaxTranches:      intFromEnv("MAX_TRANCHES", 3),
		SellUpper:        floatFromEnv("SELL_UPPER_MULTIPLIER", 1.1),
		RiskLower:        floatFromEnv("RISK_LOWER_MULTIPLIER", 0.95),
		ExitCutoff:       "15:10",
		DaysLater:        intFromEnv("DAYS_LATER", 4),
		LockTimeout:      durationFromEnv("EXIT_LOCK_TIMEOUT", "10s"),
		InboxWait:        5 * time.Second,
		BuySettle:        durationFromEnv("BUY_WAIT", "5s"),
		SellSettle:       durationFromEnv("SELL_WAIT", "5s"),
		CancelPause:      time.Second,
		OrderPause:       900 * time.Millisecond,
		RateLimitRetries: 100,
		SelectRatio:      0.92,
		SyncInterval:     durationFromEnv("MONITOR_SYNC_INTERVAL", "1m"),
		PurgeAfterDays:   60,
	}

	cfg.Sched = Sched{
		Timezone:     "Asia/Seoul",
		FetchStocks:  "15:40",
		SelectStocks: "08:50",
		Buy1:         "09:05",
		Buy2:         "14:50",
		Purge:        "18:00",
	}

	cfg.Tracing.Host = "localhost"
	cfg.Tracing.Port = 6831
	return cfg
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	dir := getenvDefault(configDirENV, "configs")

	file, err := os.Open(dir + "/" + configFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	config, err := Load(file)
	if err != nil {
		return nil, err
	}
	applySecrets(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Load decodes yaml from r over Default().
func Load(r io.Reader) (*Config, error) {
	config := Default()
	if err := yaml.NewDecoder(r).Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return &config, nil
}

func applySecrets(config *Config) {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if chat := os.Getenv(chatTelegramENV); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			config.Telegram.ChatID = id
		}
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.Storage.DSN = dsn
	}
	config.KIS.AppKey = getenvDefault(kisAppKeyENV, config.KIS.AppKey)
	config.KIS.AppSecret = getenvDefault(kisAppSecretENV, config.KIS.AppSecret)
	config.KIS.Account = getenvDefault(kisAccountENV, config.KIS.Account)
}

func (c *Config) Validate() error {
	t := c.Trading
	if t.MaxSessions <= 0 {
		return fmt.Errorf("config: trading.max_sessions must be positive, got %d", t.MaxSessions)
	}
	if t.MaxTranches <= 0 {
		return fmt.Errorf("config: trading.max_tranches must be positive, got %d", t.MaxTranches)
	}
	if t.SellUpper <= 1 {
		return fmt.Errorf("config: trading.sell_upper_multiplier must be > 1, got %v", t.SellUpper)
	}
	if t.RiskLower >= 1 || t.RiskLower <= 0 {
		return fmt.Errorf("config: trading.risk_lower_multiplier must be in (0,1), got %v", t.RiskLower)
	}
	if _, _, err := ParseClock(t.ExitCutoff); err != nil {
		return fmt.Errorf("config: trading.exit_cutoff: %w", err)
	}
	switch c.Storage.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// Location resolves schedule.timezone, falling back to a fixed KST offset.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Sched.Timezone)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// ParseClock parses "HH:MM".
func ParseClock(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("bad clock %q: %w", v, err)
	}
	return t.Hour(), t.Minute(), nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
