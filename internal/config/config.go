package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Storage  StorageConfig  `mapstructure:"storage" json:"storage"`
	Upstream UpstreamConfig `mapstructure:"upstream" json:"upstream"`
	Proxy    ProxyConfig    `mapstructure:"proxy" json:"proxy"`
	Auth     AuthConfig     `mapstructure:"auth" json:"auth"`
	Client   ClientConfig   `mapstructure:"client" json:"client"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host" json:"host"`
	Port        int    `mapstructure:"port" json:"port"`
	CORSOrigins string `mapstructure:"cors_origins" json:"cors_origins"`
}

// StorageConfig selects the persistent client storage backend.
// Driver is "postgres" or "sqlite".
type StorageConfig struct {
	Driver     string         `mapstructure:"driver" json:"driver"`
	SQLitePath string         `mapstructure:"sqlite_path" json:"sqlite_path"`
	Postgres   DatabaseConfig `mapstructure:"postgres" json:"postgres"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	Database string `mapstructure:"database" json:"database"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

// UpstreamConfig describes the hosted completion API
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	APIKey  string        `mapstructure:"api_key" json:"-"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	Referer string        `mapstructure:"referer" json:"referer"`
	Title   string        `mapstructure:"title" json:"title"`
}

// RewriteRule replaces every case-insensitive occurrence of Token with Replacement
type RewriteRule struct {
	Token       string `mapstructure:"token" json:"token"`
	Replacement string `mapstructure:"replacement" json:"replacement"`
}

type ProxyConfig struct {
	Model          string        `mapstructure:"model" json:"model"`
	Rewrites       []RewriteRule `mapstructure:"rewrites" json:"rewrites"`
	RateLimit      int           `mapstructure:"rate_limit" json:"rate_limit"`
	RateLimitReset time.Duration `mapstructure:"rate_limit_window" json:"rate_limit_window"`

	// Consecutive upstream failures before the proxy stops calling upstream
	// for BreakerCooldown. Zero disables the breaker.
	BreakerFailures int           `mapstructure:"breaker_failures" json:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" json:"breaker_cooldown"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-"`
	Issuer    string `mapstructure:"issuer" json:"issuer"`
}

// ClientConfig is used by the terminal client
type ClientConfig struct {
	ProxyURL    string `mapstructure:"proxy_url" json:"proxy_url"`
	HistoryFile string `mapstructure:"history_file" json:"history_file"`
	WordWrap    int    `mapstructure:"word_wrap" json:"word_wrap"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

const (
	DefaultUpstreamURL = "https://openrouter.ai/api/v1"
	DefaultFreeModel   = "tngtech/deepseek-r1t2-chimera:free" // keep in sync with catalog.FreeModelID
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.cors_origins", "http://localhost:3000,http://localhost:5173")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", defaultSQLitePath())
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "chatai")
	v.SetDefault("storage.postgres.database", "chatai")
	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetDefault("upstream.base_url", DefaultUpstreamURL)
	v.SetDefault("upstream.timeout", 120*time.Second)
	v.SetDefault("upstream.referer", "http://localhost:3000")
	v.SetDefault("upstream.title", "ChatAI")

	v.SetDefault("proxy.model", DefaultFreeModel)
	v.SetDefault("proxy.rewrites", []map[string]interface{}{
		{"token": "deepseek", "replacement": "FluxyTools"},
	})
	v.SetDefault("proxy.rate_limit", 30)
	v.SetDefault("proxy.rate_limit_window", time.Minute)
	v.SetDefault("proxy.breaker_failures", 5)
	v.SetDefault("proxy.breaker_cooldown", 30*time.Second)

	v.SetDefault("auth.issuer", "chatai")

	v.SetDefault("client.proxy_url", "http://localhost:3000/api/chat/free")
	v.SetDefault("client.word_wrap", 80)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads config.json from the usual locations, applies defaults and
// environment overrides. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".chatai"))
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return decode(v)
}

// Watch reloads the config file on change and hands the new value to
// onChange. It is a no-op when no config file was found.
func Watch(onChange func(*Config, error)) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".chatai"))
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	loadEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultSQLitePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "chatai.db"
	}
	return filepath.Join(homeDir, ".chatai", "chatai.db")
}

func loadEnvOverrides(cfg *Config) {
	if port := os.Getenv("CHATAI_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("CHATAI_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if origins := os.Getenv("CHATAI_CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = origins
	}

	if driver := os.Getenv("CHATAI_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if path := os.Getenv("CHATAI_SQLITE_PATH"); path != "" {
		cfg.Storage.SQLitePath = path
	}

	// Database overrides
	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Storage.Postgres.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Storage.Postgres.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Storage.Postgres.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Storage.Postgres.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Storage.Postgres.Database = dbName
	}

	// The shared credential only ever comes from the environment or the
	// config file, never from a client.
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.Upstream.APIKey = key
	}
	if base := os.Getenv("CHATAI_UPSTREAM_URL"); base != "" {
		cfg.Upstream.BaseURL = base
	}
	if secret := os.Getenv("CHATAI_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if proxyURL := os.Getenv("CHATAI_PROXY_URL"); proxyURL != "" {
		cfg.Client.ProxyURL = proxyURL
	}
	if level := os.Getenv("CHATAI_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}
