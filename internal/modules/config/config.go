package config

import (
	"io/fs"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`
	DB      string `mapstructure:"db_dsn"`
	Service struct {
		Host       string `mapstructure:"host"`
		PublicPort int    `mapstructure:"public_port"`
		AdminPort  int    `mapstructure:"admin_port"`
	} `mapstructure:"service"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Tracing struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`

		// доля трейсов, 0: все
		SampleRate float64 `mapstructure:"sample_rate"`
	} `mapstructure:"tracing"`

	Engine EngineConfig `mapstructure:"engine"`
	Market MarketConfig `mapstructure:"market"`
	OKX    OKXConfig    `mapstructure:"okx"`

	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`

	// yaml со стратегиями, которые разворачиваются при старте
	StrategiesFile string `mapstructure:"strategies_file"`
}

type EngineConfig struct {
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	SignalWorkers        int           `mapstructure:"signal_workers"`
}

type MarketConfig struct {
	WSURL           string        `mapstructure:"ws_url"`
	InstSuffix      string        `mapstructure:"inst_suffix"`
	PriceMaxAge     time.Duration `mapstructure:"price_max_age"`
	PriceMaxSamples int           `mapstructure:"price_max_samples"`
	TradeMaxSamples int           `mapstructure:"trade_max_samples"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
}

type OKXConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	Passphrase   string        `mapstructure:"passphrase"`
	TdMode       string        `mapstructure:"td_mode"`
	OrderTimeout time.Duration `mapstructure:"order_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// BootstrapConfig: прогрев истории цен через REST перед первыми тиками.
type BootstrapConfig struct {
	WarmupTimeframe string `mapstructure:"warmup_timeframe"`
	WarmupLimit     int    `mapstructure:"warmup_limit"`
	WarmupWorkers   int    `mapstructure:"warmup_workers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.public_port", 8090)
	v.SetDefault("service.admin_port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)

	v.SetDefault("engine.tick_interval", time.Second)
	v.SetDefault("engine.max_consecutive_errors", 5)
	v.SetDefault("engine.signal_workers", 8)

	v.SetDefault("market.ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("market.inst_suffix", "-USDT-SWAP")
	v.SetDefault("market.price_max_age", time.Hour)
	v.SetDefault("market.price_max_samples", 1000)
	v.SetDefault("market.trade_max_samples", 100)
	v.SetDefault("market.ping_interval", 20*time.Second)

	v.SetDefault("okx.base_url", "https://www.okx.com")
	v.SetDefault("okx.td_mode", "cross")
	v.SetDefault("okx.order_timeout", 5*time.Second)
	v.SetDefault("okx.rate_limit", 10.0)
	v.SetDefault("okx.rate_burst", 5)

	v.SetDefault("bootstrap.warmup_timeframe", "1m")
	v.SetDefault("bootstrap.warmup_limit", 60)
	v.SetDefault("bootstrap.warmup_workers", 4)

	v.SetDefault("strategies_file", "")
}

// NewConfig читает configs/$CONFIG_FILE, переменные окружения перекрывают файл
// (engine.tick_interval -> ENGINE_TICK_INTERVAL).
func NewConfig() (*Config, error) {
	v := newViper()
	configFileName := v.GetString("config_file")
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	return load(v, "configs/"+configFileName)
}

// Load читает конфиг из явного пути. Отсутствующий файл не ошибка: остаются дефолты и env.
func Load(path string) (*Config, error) {
	return load(newViper(), path)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("telegram.token", tokenTelegramENV)
	_ = v.BindEnv("db_dsn", databaseDSN)
	_ = v.BindEnv("okx.api_key", "OKX_API_KEY")
	_ = v.BindEnv("okx.api_secret", "OKX_API_SECRET")
	_ = v.BindEnv("okx.passphrase", "OKX_PASSPHRASE")
	_ = v.BindEnv("config_file", configFilePathENV)
	return v
}

func load(v *viper.Viper, path string) (*Config, error) {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if cfg.Engine.MaxConsecutiveErrors <= 0 {
		return nil, errors.Errorf("engine.max_consecutive_errors must be > 0, got %d", cfg.Engine.MaxConsecutiveErrors)
	}
	if cfg.Engine.TickInterval <= 0 {
		return nil, errors.Errorf("engine.tick_interval must be > 0, got %s", cfg.Engine.TickInterval)
	}
	return &cfg, nil
}
