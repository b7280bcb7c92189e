// Package config loads server settings from config.yaml, .env and LEXSIGN_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rpattn/lexsign/internal/db"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "LEXSIGN"

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config is the full server configuration.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Database  db.Config
	Storage   StorageConfig
	Redis     RedisConfig
	Provider  ProviderConfig
	Webhook   WebhookConfig
	Auth      AuthConfig
	Lifecycle LifecycleConfig
}

type AppConfig struct {
	Environment string
}

// Development reports whether verbose diagnostics are allowed.
func (a AppConfig) Development() bool {
	return strings.EqualFold(a.Environment, "development")
}

type HTTPConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type StorageConfig struct {
	Driver string
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

type ProviderConfig struct {
	APIURL            string
	APIKey            string
	FormBaseURL       string
	DefaultTemplateID int64
	Timeout           time.Duration
}

type WebhookConfig struct {
	Secret        string
	MaxBodyBytes  int64
	VerboseErrors bool
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type LifecycleConfig struct {
	MaxConflictRetries int
	NotifyTimeout      time.Duration
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		App: AppConfig{Environment: "production"},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Database: db.DefaultConfig(),
		Storage:  StorageConfig{Driver: StoragePostgres},
		Redis:    RedisConfig{ChannelPrefix: "lexsign:"},
		Provider: ProviderConfig{
			APIURL:      "https://api.docuseal.com",
			FormBaseURL: "https://docuseal.co",
			Timeout:     10 * time.Second,
		},
		Webhook:   WebhookConfig{MaxBodyBytes: 1 << 20},
		Lifecycle: LifecycleConfig{MaxConflictRetries: 3, NotifyTimeout: 10 * time.Second},
	}
}

// Load reads configPath/config.yaml when present, then applies .env and environment
// overrides such as LEXSIGN_DATABASE_HOST or LEXSIGN_WEBHOOK_SECRET.
func Load(configPath string) (Config, error) {
	if err := godotenv.Load(filepath.Join(configPath, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		App: AppConfig{Environment: v.GetString("app.environment")},
		HTTP: HTTPConfig{
			Addr:           v.GetString("http.addr"),
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			AllowedOrigins: splitList(v.GetStringSlice("http.allowed_origins")),
		},
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Storage: StorageConfig{Driver: strings.ToLower(strings.TrimSpace(v.GetString("storage.driver")))},
		Redis: RedisConfig{
			Addr:          v.GetString("redis.addr"),
			Password:      v.GetString("redis.password"),
			DB:            v.GetInt("redis.db"),
			ChannelPrefix: v.GetString("redis.channel_prefix"),
		},
		Provider: ProviderConfig{
			APIURL:            v.GetString("provider.api_url"),
			APIKey:            v.GetString("provider.api_key"),
			FormBaseURL:       v.GetString("provider.form_base_url"),
			DefaultTemplateID: v.GetInt64("provider.default_template_id"),
			Timeout:           v.GetDuration("provider.timeout"),
		},
		Webhook: WebhookConfig{
			Secret:        v.GetString("webhook.secret"),
			MaxBodyBytes:  v.GetInt64("webhook.max_body_bytes"),
			VerboseErrors: v.GetBool("webhook.verbose_errors"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Lifecycle: LifecycleConfig{
			MaxConflictRetries: v.GetInt("lifecycle.max_conflict_retries"),
			NotifyTimeout:      v.GetDuration("lifecycle.notify_timeout"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var problems []string
	switch c.Storage.Driver {
	case StoragePostgres, StorageMemory:
	default:
		problems = append(problems, fmt.Sprintf("storage.driver must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage.Driver))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	if c.Lifecycle.MaxConflictRetries < 0 {
		problems = append(problems, "lifecycle.max_conflict_retries cannot be negative")
	}
	if c.Webhook.VerboseErrors && !c.App.Development() {
		problems = append(problems, "webhook.verbose_errors is only allowed in development")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("app.environment", d.App.Environment)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.channel_prefix", d.Redis.ChannelPrefix)
	v.SetDefault("provider.api_url", d.Provider.APIURL)
	v.SetDefault("provider.api_key", d.Provider.APIKey)
	v.SetDefault("provider.form_base_url", d.Provider.FormBaseURL)
	v.SetDefault("provider.default_template_id", d.Provider.DefaultTemplateID)
	v.SetDefault("provider.timeout", d.Provider.Timeout)
	v.SetDefault("webhook.secret", d.Webhook.Secret)
	v.SetDefault("webhook.max_body_bytes", d.Webhook.MaxBodyBytes)
	v.SetDefault("webhook.verbose_errors", d.Webhook.VerboseErrors)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("lifecycle.max_conflict_retries", d.Lifecycle.MaxConflictRetries)
	v.SetDefault("lifecycle.notify_timeout", d.Lifecycle.NotifyTimeout)
}

// splitList accepts both YAML lists and comma-separated environment values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
