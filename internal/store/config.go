package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ml-crypto-trader/internal/logger"
)

type Config struct {
	Mode        string   `yaml:"mode"`
	Symbols     []string `yaml:"symbols"`
	Interval    string   `yaml:"interval"`
	PollSeconds int      `yaml:"poll_seconds"`
	Timezone    string   `yaml:"timezone"`

	Binance struct {
		APIKeyEnv    string `yaml:"api_key_env"`
		APISecretEnv string `yaml:"api_secret_env"`
		Testnet      bool   `yaml:"testnet"`
		KlineLimit   int    `yaml:"kline_limit"`
		RatePerSec   int    `yaml:"rate_per_sec"`
	} `yaml:"binance"`

	Risk struct {
		InitialCapital    float64 `yaml:"initial_capital"`
		RiskPerTrade      float64 `yaml:"risk_per_trade"`
		MaxPositionSize   float64 `yaml:"max_position_size"`
		MaxOpenPositions  int     `yaml:"max_open_positions"`
		MaxDrawdownPct    float64 `yaml:"max_drawdown_pct"`
		MaxDailyTrades    int     `yaml:"max_daily_trades"`
		StopLossATRMult   float64 `yaml:"stop_loss_atr_mult"`
		TakeProfitATRMult float64 `yaml:"take_profit_atr_mult"`
	} `yaml:"risk"`

	Trading struct {
		MLConfidenceThreshold float64 `yaml:"ml_confidence_threshold"`
		SentimentThreshold    float64 `yaml:"sentiment_threshold"`
	} `yaml:"trading"`

	Ensemble struct {
		MinConfidence float64            `yaml:"min_confidence"`
		Weights       map[string]float64 `yaml:"weights"`
	} `yaml:"ensemble"`

	Indicators struct {
		FastSMA      int `yaml:"fast_sma"`
		SlowSMA      int `yaml:"slow_sma"`
		RSIPeriod    int `yaml:"rsi_period"`
		ATRPeriod    int `yaml:"atr_period"`
		BBWindow     int `yaml:"bb_window"`
		LabelHorizon int `yaml:"label_horizon"`
	} `yaml:"indicators"`

	Model struct {
		Kind      string `yaml:"kind"` // FOREST, ONNX, NEUTRAL
		ONNXPath  string `yaml:"onnx_path"`
		NumStumps int    `yaml:"num_stumps"`
		Seed      int64  `yaml:"seed"`
	} `yaml:"model"`

	News struct {
		Enabled         bool     `yaml:"enabled"`
		Sources         []string `yaml:"sources"`
		RefreshMinutes  int      `yaml:"refresh_minutes"`
		CacheTTLMinutes int      `yaml:"cache_ttl_minutes"`
		MaxArticles     int      `yaml:"max_articles"`
	} `yaml:"news"`

	Backtest struct {
		TrainSize      int     `yaml:"train_size"`
		TestSize       int     `yaml:"test_size"`
		TotalPeriods   int     `yaml:"total_periods"`
		InitialCapital float64 `yaml:"initial_capital"`
		Commission     float64 `yaml:"commission"`
		ExportDir      string  `yaml:"export_dir"`
	} `yaml:"backtest"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Location resolves the configured timezone for daily-limit resets.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" && c.Mode != "BACKTEST" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN', 'LIVE' or 'BACKTEST'", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return errors.New("symbols cannot be empty")
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		return fmt.Errorf("risk.risk_per_trade must be in (0, 1], got %.4f", c.Risk.RiskPerTrade)
	}
	if c.Risk.MaxPositionSize <= 0 || c.Risk.MaxPositionSize > 1 {
		return fmt.Errorf("risk.max_position_size must be in (0, 1], got %.4f", c.Risk.MaxPositionSize)
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be in (0, 1], got %.4f", c.Risk.MaxDrawdownPct)
	}
	if c.Risk.InitialCapital <= 0 {
		return fmt.Errorf("risk.initial_capital must be positive, got %.2f", c.Risk.InitialCapital)
	}
	if c.Trading.MLConfidenceThreshold < 0 || c.Trading.MLConfidenceThreshold > 1 {
		return fmt.Errorf("trading.ml_confidence_threshold must be in [0, 1], got %.2f", c.Trading.MLConfidenceThreshold)
	}
	if c.Ensemble.MinConfidence < 0 || c.Ensemble.MinConfidence > 1 {
		return fmt.Errorf("ensemble.min_confidence must be in [0, 1], got %.2f", c.Ensemble.MinConfidence)
	}
	for name, w := range c.Ensemble.Weights {
		if w < 0 {
			return fmt.Errorf("ensemble.weights.%s must be non-negative, got %.2f", name, w)
		}
	}
	if c.Model.Kind != "FOREST" && c.Model.Kind != "ONNX" && c.Model.Kind != "NEUTRAL" {
		return fmt.Errorf("model.kind must be 'FOREST', 'ONNX' or 'NEUTRAL', got '%s'", c.Model.Kind)
	}
	if c.Model.Kind == "ONNX" && c.Model.ONNXPath == "" {
		return errors.New("model.onnx_path required when model.kind is 'ONNX'")
	}
	if c.Backtest.TrainSize > 0 && c.Backtest.TrainSize < 100 {
		return fmt.Errorf("backtest.train_size must be at least 100, got %d", c.Backtest.TrainSize)
	}
	if c.Backtest.TestSize > 0 && c.Backtest.TestSize < 50 {
		return fmt.Errorf("backtest.test_size must be at least 50, got %d", c.Backtest.TestSize)
	}
	if c.Backtest.Commission < 0 || c.Backtest.Commission > 0.05 {
		return fmt.Errorf("backtest.commission must be in [0, 0.05], got %.4f", c.Backtest.Commission)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Interval == "" {
		c.Interval = "1h"
	}
	if c.PollSeconds == 0 {
		c.PollSeconds = 60
	}
	if c.Binance.KlineLimit == 0 {
		c.Binance.KlineLimit = 500
	}
	if c.Binance.RatePerSec == 0 {
		c.Binance.RatePerSec = 5
	}
	if c.Binance.APIKeyEnv == "" {
		c.Binance.APIKeyEnv = "BINANCE_API_KEY"
	}
	if c.Binance.APISecretEnv == "" {
		c.Binance.APISecretEnv = "BINANCE_API_SECRET"
	}

	if c.Risk.InitialCapital == 0 {
		c.Risk.InitialCapital = 10000
	}
	if c.Risk.RiskPerTrade == 0 {
		c.Risk.RiskPerTrade = 0.01
	}
	if c.Risk.MaxPositionSize == 0 {
		c.Risk.MaxPositionSize = 0.1
	}
	if c.Risk.MaxOpenPositions == 0 {
		c.Risk.MaxOpenPositions = 3
	}
	if c.Risk.MaxDrawdownPct == 0 {
		c.Risk.MaxDrawdownPct = 0.15
	}
	if c.Risk.MaxDailyTrades == 0 {
		c.Risk.MaxDailyTrades = 10
	}
	if c.Risk.StopLossATRMult == 0 {
		c.Risk.StopLossATRMult = 2.0
	}
	if c.Risk.TakeProfitATRMult == 0 {
		c.Risk.TakeProfitATRMult = 3.0
	}

	if c.Trading.MLConfidenceThreshold == 0 {
		c.Trading.MLConfidenceThreshold = 0.6
		logger.Warn(context.Background(), "ml_confidence_threshold not set, using default", "default", 0.6)
	}
	if c.Trading.SentimentThreshold == 0 {
		c.Trading.SentimentThreshold = -0.3
		logger.Warn(context.Background(), "sentiment_threshold not set, using default", "default", -0.3)
	}

	if c.Ensemble.MinConfidence == 0 {
		c.Ensemble.MinConfidence = 0.5
	}
	if len(c.Ensemble.Weights) == 0 {
		c.Ensemble.Weights = map[string]float64{
			"forest":    0.4,
			"sequence":  0.4,
			"sentiment": 0.2,
		}
		logger.Warn(context.Background(), "ensemble weights not set, using defaults",
			"forest", 0.4, "sequence", 0.4, "sentiment", 0.2)
	}

	if c.Indicators.FastSMA == 0 {
		c.Indicators.FastSMA = 50
	}
	if c.Indicators.SlowSMA == 0 {
		c.Indicators.SlowSMA = 200
	}
	if c.Indicators.RSIPeriod == 0 {
		c.Indicators.RSIPeriod = 14
	}
	if c.Indicators.ATRPeriod == 0 {
		c.Indicators.ATRPeriod = 14
	}
	if c.Indicators.BBWindow == 0 {
		c.Indicators.BBWindow = 20
	}
	if c.Indicators.LabelHorizon == 0 {
		c.Indicators.LabelHorizon = 5
	}

	if c.Model.Kind == "" {
		c.Model.Kind = "FOREST"
	}
	if c.Model.NumStumps == 0 {
		c.Model.NumStumps = 100
	}
	if c.Model.Seed == 0 {
		c.Model.Seed = 42
	}

	if c.News.RefreshMinutes == 0 {
		c.News.RefreshMinutes = 30
	}
	if c.News.CacheTTLMinutes == 0 {
		c.News.CacheTTLMinutes = 60
	}
	if c.News.MaxArticles == 0 {
		c.News.MaxArticles = 20
	}

	if c.Backtest.TrainSize == 0 {
		c.Backtest.TrainSize = 1000
	}
	if c.Backtest.TestSize == 0 {
		c.Backtest.TestSize = 250
	}
	if c.Backtest.TotalPeriods == 0 {
		c.Backtest.TotalPeriods = 4
	}
	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = c.Risk.InitialCapital
	}
	if c.Backtest.Commission == 0 {
		c.Backtest.Commission = 0.001
	}
	if c.Backtest.ExportDir == "" {
		c.Backtest.ExportDir = "results"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
