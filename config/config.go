package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "PATTERNBOT"

// Config holds all application configuration. Values come from code
// defaults, then an optional YAML file, then PATTERNBOT_* environment
// variables (PATTERNBOT_STRATEGY_TOLERANCE overrides strategy.tolerance).
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Deriv struct {
		WSURL       string `mapstructure:"ws_url"`
		AppID       int    `mapstructure:"app_id"`
		Token       string `mapstructure:"token"`
		Symbol      string `mapstructure:"symbol"`
		Granularity int    `mapstructure:"granularity"`
	} `mapstructure:"deriv"`

	Strategy struct {
		Lookback          int     `mapstructure:"lookback"`
		Tolerance         float64 `mapstructure:"tolerance"`
		MinCandlesBetween int     `mapstructure:"min_candles_between"`
		ExtremaOrder      int     `mapstructure:"extrema_order"`
		MinCandles        int     `mapstructure:"min_candles"`
	} `mapstructure:"strategy"`

	Trading struct {
		// LiveTrading sends buy requests to Deriv. Off means intents are only
		// logged (paper).
		LiveTrading       bool    `mapstructure:"live_trading"`
		Stake             float64 `mapstructure:"stake"`
		Currency          string  `mapstructure:"currency"`
		Duration          int     `mapstructure:"duration"`
		DurationUnit      string  `mapstructure:"duration_unit"`
		RiskPercent       float64 `mapstructure:"risk_percent"`
		ProfitTargetRatio float64 `mapstructure:"profit_target_ratio"`
	} `mapstructure:"trading"`

	// Infrastructure. An empty address or path disables the component.
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// New returns a viper instance primed with defaults and env binding.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("deriv.ws_url", "wss://ws.derivws.com/websockets/v3")
	v.SetDefault("deriv.app_id", 1089)
	v.SetDefault("deriv.token", "")
	v.SetDefault("deriv.symbol", "frxEURUSD")
	v.SetDefault("deriv.granularity", 300)

	v.SetDefault("strategy.lookback", 50)
	v.SetDefault("strategy.tolerance", 0.002)
	v.SetDefault("strategy.min_candles_between", 10)
	v.SetDefault("strategy.extrema_order", 3)
	v.SetDefault("strategy.min_candles", 20)

	v.SetDefault("trading.live_trading", false)
	v.SetDefault("trading.stake", 10.0)
	v.SetDefault("trading.currency", "USD")
	v.SetDefault("trading.duration", 15)
	v.SetDefault("trading.duration_unit", "m")
	v.SetDefault("trading.risk_percent", 2.0)
	v.SetDefault("trading.profit_target_ratio", 2.0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("sqlite_path", "")
	v.SetDefault("metrics_addr", ":9090")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("webhook_url", "")
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the bot cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Deriv.Symbol == "":
		return errors.New("config: deriv.symbol is required")
	case c.Deriv.Granularity <= 0:
		return errors.Errorf("config: deriv.granularity must be positive, got %d", c.Deriv.Granularity)
	case c.Strategy.Lookback <= 0:
		return errors.Errorf("config: strategy.lookback must be positive, got %d", c.Strategy.Lookback)
	case c.Strategy.ExtremaOrder <= 0:
		return errors.Errorf("config: strategy.extrema_order must be positive, got %d", c.Strategy.ExtremaOrder)
	case c.Strategy.Tolerance <= 0 || c.Strategy.Tolerance >= 1:
		return errors.Errorf("config: strategy.tolerance must be in (0,1), got %g", c.Strategy.Tolerance)
	case c.Strategy.MinCandlesBetween <= 0:
		return errors.Errorf("config: strategy.min_candles_between must be positive, got %d", c.Strategy.MinCandlesBetween)
	case c.Strategy.MinCandles <= 0:
		return errors.Errorf("config: strategy.min_candles must be positive, got %d", c.Strategy.MinCandles)
	case c.Strategy.Lookback < c.Strategy.MinCandles:
		return errors.Errorf("config: strategy.lookback %d is smaller than strategy.min_candles %d",
			c.Strategy.Lookback, c.Strategy.MinCandles)
	case c.Trading.Stake <= 0:
		return errors.Errorf("config: trading.stake must be positive, got %g", c.Trading.Stake)
	case c.Trading.Duration <= 0:
		return errors.Errorf("config: trading.duration must be positive, got %d", c.Trading.Duration)
	}
	return nil
}

// RequireLive checks the settings only the live bot needs.
func (c *Config) RequireLive() error {
	if c.Deriv.Token == "" {
		return errors.New("config: deriv.token is required (PATTERNBOT_DERIV_TOKEN)")
	}
	if c.Deriv.AppID <= 0 {
		return errors.Errorf("config: deriv.app_id must be positive, got %d", c.Deriv.AppID)
	}
	return nil
}
