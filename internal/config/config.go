package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Broker struct {
		APIKey     string        `yaml:"api_key"`
		SecretKey  string        `yaml:"secret_key"`
		BaseURL    string        `yaml:"base_url" default:"https://paper-api.alpaca.markets" validate:"required,url"`
		MaxRetries int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
		Timeout    time.Duration `yaml:"timeout" default:"30s"`
	} `yaml:"broker"`
	DataSource struct {
		BaseURL       string `yaml:"base_url" default:"https://query1.finance.yahoo.com" validate:"required,url"`
		HistoryMonths int    `yaml:"history_months" default:"6" validate:"gte=2"`
	} `yaml:"data_source"`
	Indicators struct {
		RSIPeriod  int `yaml:"rsi_period" default:"14" validate:"gte=2"`
		MACDFast   int `yaml:"macd_fast" default:"12" validate:"gte=1"`
		MACDSlow   int `yaml:"macd_slow" default:"26" validate:"gtfield=MACDFast"`
		MACDSignal int `yaml:"macd_signal" default:"9" validate:"gte=1"`
	} `yaml:"indicators"`
	Strategy struct {
		Name string `yaml:"name" default:"conservative" validate:"oneof=classic conservative moderate aggressive"`
	} `yaml:"strategy"`
	Sizing struct {
		BasePercent       float64       `yaml:"base_percent" default:"0.10" validate:"gt=0,lte=1"`
		AggressivePercent float64       `yaml:"aggressive_percent" default:"0.20" validate:"gt=0,lte=1"`
		ProgressThreshold float64       `yaml:"progress_threshold" default:"80" validate:"gte=0"`
		PriceEstimate     float64       `yaml:"price_estimate" default:"100" validate:"gt=0"`
		PriceLookback     time.Duration `yaml:"price_lookback" default:"168h"`
		TargetMultiplier  float64       `yaml:"target_multiplier" default:"2.0" validate:"gt=1"`
		TargetDays        int           `yaml:"target_days" default:"365" validate:"gt=0"`
	} `yaml:"sizing"`
	Risk struct {
		MarketHoursOverride string  `yaml:"market_hours_override" validate:"omitempty,oneof=force_closed bypass"`
		DailyLossLimit      float64 `yaml:"daily_loss_limit" default:"0.05" validate:"gt=0,lt=1"`
		AllowShort          *bool   `yaml:"allow_short" default:"true"`
	} `yaml:"risk"`
	Execution struct {
		AutoExecute     bool          `yaml:"auto_execute"`
		PollAttempts    *int          `yaml:"poll_attempts" default:"10" validate:"omitnil,gte=0"`
		PollInterval    time.Duration `yaml:"poll_interval" default:"2s"`
		BracketOrders   bool          `yaml:"bracket_orders"`
		StopLossPercent float64       `yaml:"stop_loss_percent" default:"0.03" validate:"gt=0,lt=1"`
		TakeProfitPct   float64       `yaml:"take_profit_percent" default:"0.05" validate:"gt=0"`
		Secret          string        `yaml:"secret"`
	} `yaml:"execution"`
	Schedule struct {
		Symbols       []string `yaml:"symbols" default:"[\"SPY\"]" validate:"dive,required"`
		CycleCron     string   `yaml:"cycle_cron" default:"0 35 9 * * 1-5"`
		ReconcileCron string   `yaml:"reconcile_cron" default:"0 */5 9-16 * * 1-5"`
		Concurrency   int      `yaml:"concurrency" default:"4" validate:"gte=0"`
		RunOnStart    bool     `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path" default:"data/autotrader.db"`
	} `yaml:"database"`
	Lock struct {
		RedisAddr     string        `yaml:"redis_addr"`
		RedisPassword string        `yaml:"redis_password"`
		RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
		Prefix        string        `yaml:"prefix" default:"autotrader"`
		LeaseTTL      time.Duration `yaml:"lease_ttl" default:"2m" validate:"gte=1s"`
	} `yaml:"lock"`
	Telegram struct {
		BotToken  string `yaml:"bot_token"`
		ChatID    string `yaml:"chat_id"`
		NotifyAll bool   `yaml:"notify_all"`
	} `yaml:"telegram"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Path returns CONFIG_PATH or the default location.
func Path() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "configs/config.yaml"
}

// Load reads config from a YAML file, applies environment variable
// overrides and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	for i, s := range cfg.Schedule.Symbols {
		cfg.Schedule.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Broker.APIKey, "ALPACA_API_KEY")
	set(&cfg.Broker.SecretKey, "ALPACA_SECRET_KEY")
	set(&cfg.Broker.BaseURL, "ALPACA_BASE_URL")
	set(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	set(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	set(&cfg.Database.SQLitePath, "SQLITE_PATH")
	set(&cfg.Lock.RedisAddr, "REDIS_ADDR")
	set(&cfg.Proxy, "HTTPS_PROXY")
	set(&cfg.Execution.Secret, "AUTO_TRADE_SECRET")
	set(&cfg.Risk.MarketHoursOverride, "MARKET_HOURS_OVERRIDE")
	if v := os.Getenv("SYMBOLS"); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		cfg.Schedule.Symbols = symbols
	}
}

var validate = validator.New()

// Validate checks struct constraints and that broker credentials are set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Broker.APIKey == "" || c.Broker.SecretKey == "" {
		return fmt.Errorf("broker.api_key and broker.secret_key are required")
	}
	if c.Sizing.AggressivePercent < c.Sizing.BasePercent {
		return fmt.Errorf("sizing.aggressive_percent must not be below sizing.base_percent")
	}
	return nil
}

// PollMaxAttempts reports execution.poll_attempts. An explicit 0 disables
// polling after order submission.
func (c *Config) PollMaxAttempts() int {
	if c.Execution.PollAttempts == nil {
		return 10
	}
	return *c.Execution.PollAttempts
}

// ShortsAllowed reports risk.allow_short, which defaults to true.
func (c *Config) ShortsAllowed() bool {
	return c.Risk.AllowShort == nil || *c.Risk.AllowShort
}
