package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ducminhle1904/ema-crossover-bot/internal/indicators"
	"github.com/ducminhle1904/ema-crossover-bot/internal/strategy"
)

// BotConfig represents the complete configuration for the crossover bot
type BotConfig struct {
	Exchange      ExchangeConfig      `json:"exchange"`
	Strategy      StrategyConfig      `json:"strategy"`
	Symbols       []SymbolConfig      `json:"symbols"`
	Risk          RiskConfig          `json:"risk"`
	AI            AIConfig            `json:"ai"`
	Monitor       MonitorConfig       `json:"monitor"`
	Storage       StorageConfig       `json:"storage"`
	Logging       LoggingConfig       `json:"logging"`
	Metrics       MetricsConfig       `json:"metrics"`
	Notifications *NotificationConfig `json:"notifications,omitempty"`
	Lock          LockConfig          `json:"lock"`
}

// ExchangeConfig holds exchange connection settings. Credentials come from the environment.
type ExchangeConfig struct {
	Name                  string  `json:"name"`
	Testnet               bool    `json:"testnet"`
	Demo                  bool    `json:"demo"`
	QuoteCurrency         string  `json:"quote_currency"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds"`
	RateLimitRPS          float64 `json:"rate_limit_rps"`
	RateLimitBurst        int     `json:"rate_limit_burst"`

	APIKey    string `json:"-"`
	APISecret string `json:"-"`
}

// RequestTimeout bounds every exchange call
func (e ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutSeconds) * time.Second
}

// StrategyConfig holds the crossover strategy parameters
type StrategyConfig struct {
	Name               string  `json:"name"`
	FastWindow         int     `json:"fast_window"`
	SlowWindow         int     `json:"slow_window"`
	ConfirmationWindow int     `json:"confirmation_window"`
	ATRWindow          int     `json:"atr_window"`
	ATRMultiplier      float64 `json:"atr_multiplier"`

	FastTimeframe    string `json:"fast_timeframe"`    // Signal timeframe (1h)
	ConfirmTimeframe string `json:"confirm_timeframe"` // Higher timeframe used by the confirm gate (4h)

	// SignalCheckFrequencyMinutes controls how often signals are evaluated
	SignalCheckFrequencyMinutes int `json:"signal_check_frequency_minutes"`

	Detector strategy.DetectorParams `json:"detector"`
}

// IndicatorParams converts the window settings for the indicator engine
func (s StrategyConfig) IndicatorParams() indicators.Params {
	return indicators.Params{
		FastWindow:    s.FastWindow,
		SlowWindow:    s.SlowWindow,
		ConfirmWindow: s.ConfirmationWindow,
		ATRWindow:     s.ATRWindow,
	}
}

// EMALimit is the number of candles requested per timeframe
func (s StrategyConfig) EMALimit() int {
	needed := max(s.FastWindow, s.SlowWindow) + max(s.ConfirmationWindow, s.ATRWindow) + 5
	if needed > 100 {
		return needed
	}
	return 100
}

// SymbolConfig caps the share of equity a symbol may hold, in percent
type SymbolConfig struct {
	Symbol        string  `json:"symbol"`
	MaxAllocation float64 `json:"max_allocation"`
}

// RiskConfig holds the stop multipliers and fee reference
type RiskConfig struct {
	BuyStopLossMultiplier  float64 `json:"buy_stop_loss_multiplier"`
	SellStopLossMultiplier float64 `json:"sell_stop_loss_multiplier"`
	FeeRate                float64 `json:"fee_rate"`
	// StopBackoffFactor shrinks the stop size after an insufficient-funds rejection
	StopBackoffFactor float64 `json:"stop_backoff_factor"`
}

// AIConfig holds the LLM advisor settings
type AIConfig struct {
	Enabled        bool    `json:"enabled"`
	Model          string  `json:"model"`
	BaseURL        string  `json:"base_url"`
	Temperature    float64 `json:"temperature"`
	TopP           float64 `json:"top_p"`
	MaxTokens      int     `json:"max_tokens"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	// DecisionTimeoutSeconds bounds one whole gateway evaluation
	DecisionTimeoutSeconds int     `json:"decision_timeout_seconds"`
	Persona                string  `json:"persona"`
	PersonasFile           string  `json:"personas_file"`
	RequestsPerSecond      float64 `json:"requests_per_second"`
	Burst                  int     `json:"burst"`

	APIKey string `json:"-"`
}

// MonitorConfig holds scheduler and monitor timings
type MonitorConfig struct {
	PassGapSeconds        int `json:"pass_gap_seconds"`
	PauseThresholdSeconds int `json:"pause_threshold_seconds"`
	// QuietFailCodes lowers the log level for known, harmless stop fail codes
	QuietFailCodes []string `json:"quiet_fail_codes"`
}

type StorageConfig struct {
	DBPath string `json:"db_path"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegram_token,omitempty"`
	TelegramChat  string `json:"telegram_chat,omitempty"`
}

// LockConfig enables the Redis cycle lease when RedisAddr is set
type LockConfig struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redis_db"`
	Key           string `json:"key"`
	TTLSeconds    int    `json:"ttl_seconds"`
}

// LoadConfig loads configuration from file, then overlays environment values
func LoadConfig(configFile string) (*BotConfig, error) {
	// If config file doesn't contain path separators, look in configs/ directory
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes JSON config data and applies env overrides, defaults and validation
func ParseConfig(data []byte) (*BotConfig, error) {
	var config BotConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Default returns a configuration populated only from defaults and the environment
func Default() *BotConfig {
	var config BotConfig
	config.applyEnv()
	config.setDefaults()
	return &config
}

func (c *BotConfig) applyEnv() {
	c.Exchange.APIKey = getEnv("BYBIT_API_KEY", c.Exchange.APIKey)
	c.Exchange.APISecret = getEnv("BYBIT_API_SECRET", c.Exchange.APISecret)
	c.AI.APIKey = getEnv("OPENAI_API_KEY", c.AI.APIKey)
	c.Storage.DBPath = getEnv("BOT_DB_PATH", c.Storage.DBPath)
	c.Lock.RedisAddr = getEnv("REDIS_ADDR", c.Lock.RedisAddr)
	c.Lock.RedisPassword = getEnv("REDIS_PASSWORD", c.Lock.RedisPassword)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)

	token := getEnv("TELEGRAM_TOKEN", "")
	chat := getEnv("TELEGRAM_CHAT_ID", "")
	if token != "" && chat != "" {
		if c.Notifications == nil {
			c.Notifications = &NotificationConfig{Enabled: true}
		}
		c.Notifications.TelegramToken = token
		c.Notifications.TelegramChat = chat
	}
}

// setDefaults sets default values for missing configuration
func (c *BotConfig) setDefaults() {
	// Exchange defaults
	if c.Exchange.Name == "" {
		c.Exchange.Name = "bybit"
	}
	if c.Exchange.QuoteCurrency == "" {
		c.Exchange.QuoteCurrency = "USDT"
	}
	if c.Exchange.RequestTimeoutSeconds == 0 {
		c.Exchange.RequestTimeoutSeconds = 15
	}
	if c.Exchange.RateLimitRPS == 0 {
		c.Exchange.RateLimitRPS = 10
	}
	if c.Exchange.RateLimitBurst == 0 {
		c.Exchange.RateLimitBurst = 10
	}

	// Strategy defaults
	s := &c.Strategy
	if s.Name == "" {
		s.Name = strategy.Name
	}
	if s.FastWindow == 0 {
		s.FastWindow = 9
	}
	if s.SlowWindow == 0 {
		s.SlowWindow = 21
	}
	if s.ConfirmationWindow == 0 {
		s.ConfirmationWindow = 9
	}
	if s.ATRWindow == 0 {
		s.ATRWindow = 7
	}
	if s.ATRMultiplier == 0 {
		s.ATRMultiplier = 3.0
	}
	if s.FastTimeframe == "" {
		s.FastTimeframe = "1h"
	}
	if s.ConfirmTimeframe == "" {
		s.ConfirmTimeframe = "4h"
	}
	if s.SignalCheckFrequencyMinutes == 0 {
		s.SignalCheckFrequencyMinutes = 240
	}
	if s.Detector == (strategy.DetectorParams{}) {
		s.Detector = strategy.DefaultDetectorParams()
	}

	// Symbols fall back to the two default pairs
	if len(c.Symbols) == 0 {
		c.Symbols = []SymbolConfig{
			{Symbol: "BTC" + c.Exchange.QuoteCurrency, MaxAllocation: 50},
			{Symbol: "ETH" + c.Exchange.QuoteCurrency, MaxAllocation: 50},
		}
	}
	for i := range c.Symbols {
		c.Symbols[i].Symbol = NormalizeSymbol(c.Symbols[i].Symbol)
	}

	// Risk defaults
	if c.Risk.BuyStopLossMultiplier == 0 {
		c.Risk.BuyStopLossMultiplier = 0.95
	}
	if c.Risk.SellStopLossMultiplier == 0 {
		c.Risk.SellStopLossMultiplier = 1.05
	}
	if c.Risk.FeeRate == 0 {
		c.Risk.FeeRate = 0.0035
	}
	if c.Risk.StopBackoffFactor == 0 {
		c.Risk.StopBackoffFactor = 0.995
	}

	// AI defaults
	if c.AI.Model == "" {
		c.AI.Model = DefaultModel
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = DefaultTemperature
	}
	if c.AI.TopP == 0 {
		c.AI.TopP = DefaultTopP
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = DefaultMaxTokens
	}
	if c.AI.TimeoutSeconds == 0 {
		c.AI.TimeoutSeconds = 30
	}
	if c.AI.DecisionTimeoutSeconds == 0 {
		c.AI.DecisionTimeoutSeconds = 45
	}
	if c.AI.Persona == "" {
		c.AI.Persona = DefaultPersonaName
	}
	if c.AI.RequestsPerSecond == 0 {
		c.AI.RequestsPerSecond = 2
	}
	if c.AI.Burst == 0 {
		c.AI.Burst = 5
	}

	// Monitor defaults
	if c.Monitor.PassGapSeconds == 0 {
		c.Monitor.PassGapSeconds = 5
	}
	if c.Monitor.PauseThresholdSeconds == 0 {
		c.Monitor.PauseThresholdSeconds = 90
	}

	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join("data", "crossover-bot.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9102"
	}
	if c.Lock.Key == "" {
		c.Lock.Key = "crossover-bot:cycle"
	}
	if c.Lock.TTLSeconds == 0 {
		c.Lock.TTLSeconds = 55
	}
}

// validate validates the configuration
func (c *BotConfig) validate() error {
	if !strings.EqualFold(c.Exchange.Name, "bybit") {
		return fmt.Errorf("unsupported exchange %q: only bybit is available", c.Exchange.Name)
	}
	if err := c.Strategy.IndicatorParams().Validate(); err != nil {
		return fmt.Errorf("strategy windows: %w", err)
	}
	if c.Strategy.FastWindow >= c.Strategy.SlowWindow {
		return fmt.Errorf("fast window (%d) must be shorter than slow window (%d)", c.Strategy.FastWindow, c.Strategy.SlowWindow)
	}
	if c.Strategy.ATRMultiplier <= 0 {
		return fmt.Errorf("atr multiplier must be greater than 0")
	}
	freq := c.Strategy.SignalCheckFrequencyMinutes
	if freq <= 0 || (freq >= 60 && freq%60 != 0) || (freq < 60 && 60%freq != 0) {
		return fmt.Errorf("signal check frequency %d must divide an hour or be a whole number of hours", freq)
	}
	if _, err := TimeframeDuration(c.Strategy.FastTimeframe); err != nil {
		return err
	}
	if _, err := TimeframeDuration(c.Strategy.ConfirmTimeframe); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Symbols))
	for _, sc := range c.Symbols {
		if sc.Symbol == "" {
			return fmt.Errorf("symbol is required")
		}
		if seen[sc.Symbol] {
			return fmt.Errorf("duplicate symbol %s", sc.Symbol)
		}
		seen[sc.Symbol] = true
		if sc.MaxAllocation <= 0 || sc.MaxAllocation > 100 {
			return fmt.Errorf("max allocation for %s must be in (0, 100], got %.2f", sc.Symbol, sc.MaxAllocation)
		}
	}

	if c.Risk.BuyStopLossMultiplier <= 0 || c.Risk.BuyStopLossMultiplier >= 1 {
		return fmt.Errorf("buy stop loss multiplier must be between 0 and 1")
	}
	if c.Risk.StopBackoffFactor <= 0 || c.Risk.StopBackoffFactor >= 1 {
		return fmt.Errorf("stop backoff factor must be between 0 and 1")
	}
	return nil
}

// NormalizeSymbol converts dashed pairs such as BTC-EUR to exchange form
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "-", ""))
}

// TimeframeDuration parses candle intervals such as 1m, 15m, 1h, 4h or 1d
func TimeframeDuration(tf string) (time.Duration, error) {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	var n int
	if _, err := fmt.Sscanf(tf[:len(tf)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timeframe %q", tf)
}
