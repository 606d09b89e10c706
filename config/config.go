package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cryptop/internal/adapters/binanceclient"
	"cryptop/internal/adapters/logger" // Import the logger package for LogLevel
	"cryptop/internal/domain"
	"cryptop/internal/indicators"
	"cryptop/internal/ports"
)

// DefaultPath is read when CONFIG_PATH is not set.
const DefaultPath = "./config.yaml"

// Config holds all application configuration.
type Config struct {
	// Chart
	Symbol         string
	CandleInterval domain.CandleInterval

	// Binance API
	Market    binanceclient.Market
	IsTestnet bool
	APIKey    string // optional, public market data needs no key
	SecretKey string

	// Logging
	LogLevel logger.LogLevel
	LogFile  string // empty disables the file sink

	// Kline journal, empty disables it
	DBPath string

	// Task periods
	UpdatePeriod time.Duration
	RenderPeriod time.Duration

	// Moving-average overlay, disabled when OverlayPeriod is 0
	OverlayType   indicators.MovingAverageType
	OverlayPeriod int
}

// fileConfig mirrors the YAML file. Required keys are decoded as nodes so a
// non-string value can be reported instead of silently coerced.
type fileConfig struct {
	Symbol         yaml.Node `yaml:"symbol"`
	CandleInterval yaml.Node `yaml:"candle_interval"`
	Market         string    `yaml:"market"`
	Testnet        bool      `yaml:"testnet"`
	APIKey         string    `yaml:"api_key"`
	APISecret      string    `yaml:"api_secret"`
	LogLevel       string    `yaml:"log_level"`
	LogFile        *string   `yaml:"log_file"`
	DBPath         string    `yaml:"db_path"`
	UpdatePeriodMs int       `yaml:"update_period_ms"`
	RenderPeriodMs int       `yaml:"render_period_ms"`
	Overlay        struct {
		Type   string `yaml:"type"`
		Period int    `yaml:"period"`
	} `yaml:"overlay"`
}

// LoadConfig loads the .env file if present, then reads the YAML file named
// by CONFIG_PATH (default ./config.yaml) with environment overrides.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	return Load(getEnv("CONFIG_PATH", DefaultPath))
}

// Load reads config from a YAML file, then applies environment variable overrides.
// All problems are collected and reported as one ports.ErrConfigurationError.
func Load(path string) (*Config, error) {
	var errs []string // Collect validation errors

	fc := &fileConfig{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		errs = append(errs, fmt.Sprintf("config file %s not found", path))
	case err != nil:
		errs = append(errs, fmt.Sprintf("read config file %s: %v", path, err))
	case len(strings.TrimSpace(string(data))) == 0:
		errs = append(errs, fmt.Sprintf("config file %s is empty", path))
	default:
		if err := yaml.Unmarshal(data, fc); err != nil {
			errs = append(errs, fmt.Sprintf("parse config file %s: %v", path, err))
		}
	}

	cfg := &Config{}

	// Chart
	symbol, err := stringNode(&fc.Symbol, "symbol")
	if err != nil {
		errs = append(errs, err.Error())
	}
	symbol = getEnv("SYMBOL", symbol)
	if symbol == "" {
		errs = append(errs, "symbol must be set")
	}
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(symbol))

	intervalStr, err := stringNode(&fc.CandleInterval, "candle_interval")
	if err != nil {
		errs = append(errs, err.Error())
	}
	intervalStr = getEnv("CANDLE_INTERVAL", intervalStr)
	if intervalStr == "" {
		errs = append(errs, "candle_interval must be set")
	} else if cfg.CandleInterval, err = domain.ParseInterval(intervalStr); err != nil {
		errs = append(errs, fmt.Sprintf("invalid candle_interval: %v", err))
	}

	// Binance API
	if cfg.Market, err = binanceclient.ParseMarket(getEnv("MARKET", fc.Market)); err != nil {
		errs = append(errs, fmt.Sprintf("invalid market: %v", err))
	}
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", fc.Testnet)
	cfg.APIKey = getEnv("BINANCE_API_KEY", fc.APIKey)
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", fc.APISecret)

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", orDefault(fc.LogLevel, "INFO")))
	logFile := "cryptop.log"
	if fc.LogFile != nil {
		logFile = *fc.LogFile
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		logFile = v
	}
	cfg.LogFile = logFile

	// Database
	cfg.DBPath = getEnv("DB_PATH", fc.DBPath)

	// Task periods
	updateMs, err := getEnvAsIntRequired("UPDATE_PERIOD_MS", orDefaultInt(fc.UpdatePeriodMs, 1000))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid UPDATE_PERIOD_MS: %v", err))
	} else if updateMs <= 0 {
		errs = append(errs, "update_period_ms must be positive")
	}
	cfg.UpdatePeriod = time.Duration(updateMs) * time.Millisecond

	renderMs, err := getEnvAsIntRequired("RENDER_PERIOD_MS", orDefaultInt(fc.RenderPeriodMs, 1000))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RENDER_PERIOD_MS: %v", err))
	} else if renderMs <= 0 {
		errs = append(errs, "render_period_ms must be positive")
	}
	cfg.RenderPeriod = time.Duration(renderMs) * time.Millisecond

	// Overlay
	cfg.OverlayPeriod, err = getEnvAsIntRequired("OVERLAY_PERIOD", fc.Overlay.Period)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid OVERLAY_PERIOD: %v", err))
	} else if cfg.OverlayPeriod < 0 {
		errs = append(errs, "overlay.period cannot be negative")
	}
	if cfg.OverlayType, err = indicators.ParseMovingAverageType(getEnv("OVERLAY_TYPE", orDefault(fc.Overlay.Type, "SMA"))); err != nil {
		errs = append(errs, fmt.Sprintf("invalid overlay.type: %v", err))
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}

	return cfg, nil
}

// stringNode returns the scalar string held by n. An absent key yields "".
func stringNode(n *yaml.Node, key string) (string, error) {
	if n.Kind == 0 {
		return "", nil
	}
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!str" {
		return "", fmt.Errorf("%s must be a string (line %d)", key, n.Line)
	}
	return strings.TrimSpace(n.Value), nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
