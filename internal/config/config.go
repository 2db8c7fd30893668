package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// Upper bound for any outbound provider call.
	MaxUpstreamTimeout = 30 * time.Second
)

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	Env          string        `mapstructure:"env"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StoreConfig struct {
	Driver  string `mapstructure:"driver"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	LogMode bool   `mapstructure:"log_mode"`
}

type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

type MercadoPagoConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	AccessToken     string        `mapstructure:"access_token"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ForwardURL      string        `mapstructure:"forward_url"`
	ForwardAPIKey   string        `mapstructure:"forward_api_key"`
	DefaultCategory string        `mapstructure:"default_category"`
	InvertKind      bool          `mapstructure:"invert_kind"`
	AdjustmentAs    string        `mapstructure:"adjustment_as"`
}

type TelegramConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BotToken      string        `mapstructure:"bot_token"`
	ChatID        string        `mapstructure:"chat_id"`
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	QueueSize     int           `mapstructure:"queue_size"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	TimeZone      string        `mapstructure:"time_zone"`
}

type ExportConfig struct {
	XLSXEnabled bool `mapstructure:"xlsx_enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Auth        AuthConfig        `mapstructure:"auth"`
	MercadoPago MercadoPagoConfig `mapstructure:"mercadopago"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Export      ExportConfig      `mapstructure:"export"`
	Log         LogConfig         `mapstructure:"log"`
	Build       string            `mapstructure:"build"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", 20*time.Second)
	v.SetDefault("server.write_timeout", 40*time.Second)

	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.path", "./data/finance/records.json")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.log_mode", false)

	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("mercadopago.base_url", "https://api.mercadopago.com")
	v.SetDefault("mercadopago.access_token", "")
	v.SetDefault("mercadopago.webhook_secret", "")
	v.SetDefault("mercadopago.timeout", 20*time.Second)
	v.SetDefault("mercadopago.forward_url", "")
	v.SetDefault("mercadopago.forward_api_key", "")
	v.SetDefault("mercadopago.default_category", "otros")
	v.SetDefault("mercadopago.invert_kind", false)
	v.SetDefault("mercadopago.adjustment_as", "skip")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", 15*time.Second)
	v.SetDefault("telegram.queue_size", 64)
	v.SetDefault("telegram.rate_per_second", 1.0)
	v.SetDefault("telegram.time_zone", "America/Santiago")

	v.SetDefault("export.xlsx_enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("build", "dev")
}

// Legacy variable names still honored on top of the WEBLEDGER_ prefix.
var envAliases = map[string][]string{
	"server.port":                {"SERVER_PORT", "PORT"},
	"server.env":                 {"ENVIRONMENT"},
	"store.dsn":                  {"DB_SOURCE"},
	"store.path":                 {"DB_PATH"},
	"auth.api_keys":              {"API_KEYS", "API_KEY"},
	"mercadopago.access_token":   {"MP_ACCESS_TOKEN"},
	"mercadopago.webhook_secret": {"MP_WEBHOOK_SECRET"},
	"telegram.bot_token":         {"TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN"},
	"telegram.chat_id":           {"TELEGRAM_CHAT_ID"},
	"build":                      {"BUILD"},
}

// Load builds the process configuration once at startup.
// Sources, lowest to highest precedence: defaults, config file, .env, environment.
// An empty path looks for an optional ./config.yaml.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("WEBLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		prefixed := "WEBLEDGER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) normalize() error {
	keys := make([]string, 0, len(c.Auth.APIKeys))
	for _, raw := range c.Auth.APIKeys {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	c.Auth.APIKeys = keys

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverFile, DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", c.Store.Driver)
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.MercadoPago.AdjustmentAs {
	case "skip", "income", "expense":
	default:
		return fmt.Errorf("mercadopago.adjustment_as must be skip, income or expense, got %q", c.MercadoPago.AdjustmentAs)
	}
	if c.MercadoPago.Timeout <= 0 || c.MercadoPago.Timeout > MaxUpstreamTimeout {
		c.MercadoPago.Timeout = MaxUpstreamTimeout
	}
	if c.Telegram.Timeout <= 0 || c.Telegram.Timeout > MaxUpstreamTimeout {
		c.Telegram.Timeout = MaxUpstreamTimeout
	}
	if c.Telegram.QueueSize <= 0 {
		c.Telegram.QueueSize = 1
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
