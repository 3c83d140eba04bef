package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Symbol   string         `yaml:"symbol"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
}

type ExchangeConfig struct {
	Name           string `yaml:"name"`
	RESTEndpoint   string `yaml:"rest_endpoint"`
	WSEndpoint     string `yaml:"ws_endpoint"`
	UseWebsocket   bool   `yaml:"use_websocket"`
	TradeLimit     int    `yaml:"trade_limit"`
	OrderBookDepth int    `yaml:"orderbook_depth"`
}

type StorageConfig struct {
	PriceHistoryPath string `yaml:"price_history_path"`
	WhalePath        string `yaml:"whale_path"`
	PredictionPath   string `yaml:"prediction_path"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type EngineConfig struct {
	CycleInterval         time.Duration `yaml:"cycle_interval"`
	VolumeMetricsInterval time.Duration `yaml:"volume_metrics_interval"`
	PatternScanInterval   time.Duration `yaml:"pattern_scan_interval"`
	DecisionInterval      time.Duration `yaml:"decision_interval"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval"`
	FetchTimeout          time.Duration `yaml:"fetch_timeout"`
	RetentionDays         int           `yaml:"retention_days"`
	WhaleThresholdUSD     float64       `yaml:"whale_threshold_usd"`
	OrderFlowHistory      int           `yaml:"orderflow_history"`
	WalletSizeUSD         float64       `yaml:"wallet_size_usd"`
	MaxLeverage           int           `yaml:"max_leverage"`
	EntryWindow           time.Duration `yaml:"entry_window"`
	BuyConfidence         float64       `yaml:"buy_confidence"`
}

// Load reads .env (if present), expands ${VAR} references in the YAML file and decodes it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	setString(&c.Symbol, "SOLUSDT")

	setString(&c.Exchange.Name, "bybit")
	setString(&c.Exchange.RESTEndpoint, "https://api.bybit.com")
	setString(&c.Exchange.WSEndpoint, "wss://stream.bybit.com/v5/public/linear")
	setInt(&c.Exchange.TradeLimit, 50)
	setInt(&c.Exchange.OrderBookDepth, 50)

	setString(&c.Storage.PriceHistoryPath, "data/price_history.db")
	setString(&c.Storage.WhalePath, "data/whales.db")
	setString(&c.Storage.PredictionPath, "data/predictions.db")

	setString(&c.Redis.Addr, "localhost:6379")
	setDuration(&c.Redis.TTL, 10*time.Minute)

	setString(&c.Logging.Level, "info")
	setInt(&c.Logging.MaxSizeMB, 50)
	setInt(&c.Logging.MaxBackups, 5)
	setInt(&c.Logging.MaxAgeDays, 14)

	setInt(&c.Server.Port, 8080)

	e := &c.Engine
	setDuration(&e.CycleInterval, 5*time.Second)
	setDuration(&e.VolumeMetricsInterval, 5*time.Minute)
	setDuration(&e.PatternScanInterval, 30*time.Second)
	setDuration(&e.DecisionInterval, 2*time.Minute)
	setDuration(&e.CleanupInterval, 24*time.Hour)
	setDuration(&e.FetchTimeout, 10*time.Second)
	setDuration(&e.EntryWindow, 60*time.Second)
	setInt(&e.RetentionDays, 7)
	setInt(&e.OrderFlowHistory, 50)
	setInt(&e.MaxLeverage, 20)
	setFloat(&e.WhaleThresholdUSD, 5000)
	setFloat(&e.WalletSizeUSD, 10)
	setFloat(&e.BuyConfidence, 70)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Symbol == "" {
		errs = append(errs, errors.New("symbol is required"))
	}
	if c.Engine.CycleInterval <= 0 || c.Engine.VolumeMetricsInterval <= 0 || c.Engine.PatternScanInterval <= 0 ||
		c.Engine.DecisionInterval <= 0 || c.Engine.CleanupInterval <= 0 {
		errs = append(errs, errors.New("engine intervals must be positive"))
	}
	if c.Engine.MaxLeverage < 1 {
		errs = append(errs, fmt.Errorf("max_leverage must be >= 1, got %d", c.Engine.MaxLeverage))
	}
	if c.Engine.WhaleThresholdUSD <= 0 {
		errs = append(errs, fmt.Errorf("whale_threshold_usd must be positive, got %v", c.Engine.WhaleThresholdUSD))
	}
	if c.Engine.OrderFlowHistory < 2 {
		errs = append(errs, fmt.Errorf("orderflow_history must be >= 2, got %d", c.Engine.OrderFlowHistory))
	}
	return errors.Join(errs...)
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
