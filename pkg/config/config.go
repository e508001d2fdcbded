package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Redis    RedisConfig    `mapstructure:"redis"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	URL         string        `mapstructure:"url"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type RedisConfig struct {
	// Addr is optional. Without it the sweeper falls back to an in-process lock.
	Addr string `mapstructure:"addr"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type FeedConfig struct {
	Addr string `mapstructure:"addr"`
	// AllowedOrigins is a comma separated list in FEED_ALLOWED_ORIGINS. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	// PrivateKeyPath is only read by the token issuing tool.
	PrivateKeyPath string `mapstructure:"private_key_path"`
	Issuer        string `mapstructure:"issuer"`
}

type SweepConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	ChargeBatchSize int           `mapstructure:"charge_batch_size"`
}

type OutboxConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var envBindings = map[string]string{
	"database.url":            "AUCTION_DB_URL",
	"database.lock_timeout":   "DB_LOCK_TIMEOUT",
	"rabbitmq.url":            "RABBITMQ_URL",
	"rabbitmq.exchange":       "EVENTS_EXCHANGE",
	"redis.addr":              "REDIS_URL",
	"http.addr":               "HTTP_ADDR",
	"feed.addr":               "FEED_ADDR",
	"feed.allowed_origins":    "FEED_ALLOWED_ORIGINS",
	"auth.public_key_path":    "AUTH_PUBLIC_KEY_PATH",
	"auth.private_key_path":   "AUTH_PRIVATE_KEY_PATH",
	"auth.issuer":             "AUTH_ISSUER",
	"sweep.interval":          "SWEEP_INTERVAL",
	"sweep.concurrency":       "SWEEP_CONCURRENCY",
	"sweep.lock_ttl":          "SWEEP_LOCK_TTL",
	"sweep.charge_batch_size": "SWEEP_CHARGE_BATCH_SIZE",
	"outbox.batch_size":       "OUTBOX_BATCH_SIZE",
	"outbox.interval":         "OUTBOX_INTERVAL",
	"log.level":               "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.lock_timeout", 3*time.Second)
	v.SetDefault("rabbitmq.exchange", "auction.events")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("feed.addr", ":8081")
	v.SetDefault("auth.issuer", "hammer-auth")
	v.SetDefault("sweep.interval", time.Minute)
	v.SetDefault("sweep.concurrency", 4)
	v.SetDefault("sweep.lock_ttl", 50*time.Second)
	v.SetDefault("sweep.charge_batch_size", 50)
	v.SetDefault("outbox.batch_size", 10)
	v.SetDefault("outbox.interval", time.Second)
	v.SetDefault("log.level", "info")
}

// Load reads .env.local and .env (local overrides), then layers defaults,
// an optional config.yaml and environment variables through viper.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the values every binary relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("sweep.interval must be positive"))
	}
	if c.Sweep.Concurrency <= 0 {
		errs = append(errs, errors.New("sweep.concurrency must be positive"))
	}
	if c.Sweep.ChargeBatchSize <= 0 {
		errs = append(errs, errors.New("sweep.charge_batch_size must be positive"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be positive"))
	}
	if c.Outbox.Interval <= 0 {
		errs = append(errs, errors.New("outbox.interval must be positive"))
	}
	if c.RabbitMQ.Exchange == "" {
		errs = append(errs, errors.New("rabbitmq.exchange is required"))
	}
	return errors.Join(errs...)
}

// RequireDatabase fails when AUCTION_DB_URL is unset.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return errors.New("AUCTION_DB_URL is not set")
	}
	return nil
}

// RequireBroker fails when RABBITMQ_URL is unset. The broker carries every
// notification event, so running without it is a startup error.
func (c *Config) RequireBroker() error {
	if c.RabbitMQ.URL == "" {
		return errors.New("RABBITMQ_URL is not set")
	}
	return nil
}

// RequireAuth fails when the token verification key is not configured.
func (c *Config) RequireAuth() error {
	if c.Auth.PublicKeyPath == "" {
		return errors.New("AUTH_PUBLIC_KEY_PATH is not set")
	}
	return nil
}
