package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pearl-sniper/internal/logging"
)

// Config materialises application configuration. Immutable after Load; the
// core never re-reads configuration mid-run.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Market    MarketConfig    `mapstructure:"market"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Session   SessionConfig   `mapstructure:"session"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the attempt log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MarketConfig covers catalog read access.
type MarketConfig struct {
	Region            string           `mapstructure:"region"`
	BaseURL           string           `mapstructure:"base_url"`
	RequestTimeout    time.Duration    `mapstructure:"request_timeout"`
	RequestsPerSecond float64          `mapstructure:"requests_per_second"`
	MaxRetries        int              `mapstructure:"max_retries"`
	UserAgent         string           `mapstructure:"user_agent"`
	Partitions        []PartitionEntry `mapstructure:"partitions"`
}

// PartitionEntry selects one watched catalog partition.
type PartitionEntry struct {
	Main int    `mapstructure:"main"`
	Sub  int    `mapstructure:"sub"`
	Name string `mapstructure:"name"`
}

// PollerConfig governs the adaptive polling cadence.
type PollerConfig struct {
	BaseInterval     time.Duration  `mapstructure:"base_interval"`
	BoostInterval    time.Duration  `mapstructure:"boost_interval"`
	ActivityInterval time.Duration  `mapstructure:"activity_interval"`
	ActivityWindow   time.Duration  `mapstructure:"activity_window"`
	PeakEnabled      bool           `mapstructure:"peak_enabled"`
	PeakStartHour    int            `mapstructure:"peak_start_hour"`
	PeakEndHour      int            `mapstructure:"peak_end_hour"`
	ScheduleEnabled  bool           `mapstructure:"schedule_enabled"`
	Schedules        []ScheduleRule `mapstructure:"schedules"`
}

// ScheduleRule is one recurring high-activity window (UTC).
type ScheduleRule struct {
	Weekday   string `mapstructure:"weekday"`
	StartHour int    `mapstructure:"start_hour"`
	EndHour   int    `mapstructure:"end_hour"`
}

// SessionConfig locates the lease file.
type SessionConfig struct {
	File   string        `mapstructure:"file"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

// EvaluatorConfig sets the profitability thresholds and reference source.
type EvaluatorConfig struct {
	MinProfit       int64         `mapstructure:"min_profit"`
	MinMargin       float64       `mapstructure:"min_margin"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CronItemID      int64         `mapstructure:"cron_item_id"`
	ValksItemID     int64         `mapstructure:"valks_item_id"`
}

// SafetyConfig defines the purchase policy limits.
type SafetyConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	DryRun                bool          `mapstructure:"dry_run"`
	PriceCeiling          int64         `mapstructure:"price_ceiling"`
	MaxPurchasesPerWindow int           `mapstructure:"max_purchases_per_window"`
	RateWindow            time.Duration `mapstructure:"rate_window"`
	Cooldown              time.Duration `mapstructure:"cooldown"`
	CooldownScope         string        `mapstructure:"cooldown_scope"`
	PurchaseTimeout       time.Duration `mapstructure:"purchase_timeout"`
	ReadAuthFatal         bool          `mapstructure:"read_auth_fatal"`
	PurchaseAuthFatal     bool          `mapstructure:"purchase_auth_fatal"`
	Budget                int64         `mapstructure:"budget"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig describes the generic webhook channel.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PEARLSNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pearlsniper")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x70736e70))

	v.SetDefault("market.region", "eu")
	v.SetDefault("market.request_timeout", "5s")
	v.SetDefault("market.requests_per_second", 20.0)
	v.SetDefault("market.max_retries", 2)
	v.SetDefault("market.user_agent", "pearlsniper/1.0")

	v.SetDefault("poller.base_interval", "2s")
	v.SetDefault("poller.boost_interval", "1s")
	v.SetDefault("poller.activity_interval", "1500ms")
	v.SetDefault("poller.activity_window", "5m")
	v.SetDefault("poller.peak_enabled", true)
	v.SetDefault("poller.peak_start_hour", 18)
	v.SetDefault("poller.peak_end_hour", 22)
	v.SetDefault("poller.schedule_enabled", true)

	v.SetDefault("session.file", "config/session.json")
	v.SetDefault("session.max_age", "24h")

	v.SetDefault("evaluator.min_profit", int64(100_000_000))
	v.SetDefault("evaluator.min_margin", 0.05)
	v.SetDefault("evaluator.refresh_interval", "5m")
	v.SetDefault("evaluator.request_timeout", "10s")
	v.SetDefault("evaluator.cron_item_id", int64(16004))
	v.SetDefault("evaluator.valks_item_id", int64(16003))

	v.SetDefault("safety.enabled", false)
	v.SetDefault("safety.dry_run", false)
	v.SetDefault("safety.price_ceiling", int64(5_000_000_000))
	v.SetDefault("safety.max_purchases_per_window", 10)
	v.SetDefault("safety.rate_window", "1h")
	v.SetDefault("safety.cooldown", "2s")
	v.SetDefault("safety.cooldown_scope", "global")
	v.SetDefault("safety.purchase_timeout", "1500ms")
	v.SetDefault("safety.read_auth_fatal", false)
	v.SetDefault("safety.purchase_auth_fatal", true)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.webhook.enabled", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Poller.BaseInterval <= 0 {
		return fmt.Errorf("poller.base_interval must be greater than zero")
	}
	if c.Poller.BoostInterval <= 0 {
		return fmt.Errorf("poller.boost_interval must be greater than zero")
	}
	if c.Poller.PeakStartHour < 0 || c.Poller.PeakStartHour > 23 || c.Poller.PeakEndHour < 0 || c.Poller.PeakEndHour > 23 {
		return fmt.Errorf("poller peak hours must be within 0-23")
	}
	if c.Safety.PriceCeiling <= 0 {
		return fmt.Errorf("safety.price_ceiling must be greater than zero")
	}
	if c.Safety.MaxPurchasesPerWindow <= 0 {
		return fmt.Errorf("safety.max_purchases_per_window must be greater than zero")
	}
	if c.Safety.Cooldown <= 0 {
		return fmt.Errorf("safety.cooldown must be greater than zero")
	}
	if scope := c.Safety.CooldownScope; scope != "global" && scope != "per_key" {
		return fmt.Errorf("safety.cooldown_scope must be global or per_key")
	}
	// A stuck purchase call must not outlast the cooldown, or it could
	// stall cycles indefinitely.
	if c.Safety.PurchaseTimeout >= c.Safety.Cooldown {
		return fmt.Errorf("safety.purchase_timeout must be shorter than safety.cooldown")
	}
	if c.Evaluator.MinProfit < 0 {
		return fmt.Errorf("evaluator.min_profit cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url is required")
	}
	return nil
}

// WatchedPartitions resolves the configured partition list, defaulting to
// the eight pearl categories.
func (c *Config) WatchedPartitions() []PartitionEntry {
	if len(c.Market.Partitions) > 0 {
		return c.Market.Partitions
	}
	defaults := make([]PartitionEntry, 0, 8)
	for sub := 1; sub <= 8; sub++ {
		defaults = append(defaults, PartitionEntry{Main: 55, Sub: sub})
	}
	return defaults
}

// ParseWeekday maps a config weekday name to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	default:
		return time.Sunday, fmt.Errorf("unknown weekday %q", name)
	}
}
