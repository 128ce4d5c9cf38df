package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

/* Config is a helper package. It could be an external lib */

type Config struct {
	Port                   string `mapstructure:"PORT"`
	Store                  string `mapstructure:"STORE"`
	RedisAddr              string `mapstructure:"REDIS_ADDR"`
	RedisPassword          string `mapstructure:"REDIS_PASSWORD"`
	RedisDB                int    `mapstructure:"REDIS_DB"`
	SubscriptionsFile      string `mapstructure:"SUBSCRIPTIONS_FILE"`
	Platform               string `mapstructure:"PLATFORM"`
	InstanceID             string `mapstructure:"INSTANCE_ID"`
	RetryIntervalSeconds   int    `mapstructure:"RETRY_INTERVAL_SECONDS"`
	RetryBatchSize         int    `mapstructure:"RETRY_BATCH_SIZE"`
	RetryConcurrency       int    `mapstructure:"RETRY_CONCURRENCY"`
	DeliveryTimeoutSeconds int    `mapstructure:"DELIVERY_TIMEOUT_SECONDS"`
	DeliveryMaxRedirects   int    `mapstructure:"DELIVERY_MAX_REDIRECTS"`
	CleanupSchedule        string `mapstructure:"CLEANUP_SCHEDULE"`
	RetentionDays          int    `mapstructure:"RETENTION_DAYS"`
	DeliveredRetentionDays int    `mapstructure:"DELIVERED_RETENTION_DAYS"`
	KeepAliveSeconds       int    `mapstructure:"KEEPALIVE_SECONDS"`
	AlertThreshold         int    `mapstructure:"ALERT_THRESHOLD"`
	AlertWindowMinutes     int    `mapstructure:"ALERT_WINDOW_MINUTES"`
	LogLevel               string `mapstructure:"LOG_LEVEL"`
}

// Store backends
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

func setDefaults(v *viper.Viper) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "webhook-outbox"
	}

	v.SetDefault("PORT", "8080")
	v.SetDefault("STORE", StoreRedis)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SUBSCRIPTIONS_FILE", "subscriptions.yaml")
	v.SetDefault("PLATFORM", "web")
	v.SetDefault("INSTANCE_ID", hostname)
	v.SetDefault("RETRY_INTERVAL_SECONDS", 10)
	v.SetDefault("RETRY_BATCH_SIZE", 50)
	v.SetDefault("RETRY_CONCURRENCY", 10)
	v.SetDefault("DELIVERY_TIMEOUT_SECONDS", 30)
	v.SetDefault("DELIVERY_MAX_REDIRECTS", 3)
	v.SetDefault("CLEANUP_SCHEDULE", "0 3 * * *")
	v.SetDefault("RETENTION_DAYS", 90)
	v.SetDefault("DELIVERED_RETENTION_DAYS", 30)
	v.SetDefault("KEEPALIVE_SECONDS", 30)
	v.SetDefault("ALERT_THRESHOLD", 3)
	v.SetDefault("ALERT_WINDOW_MINUTES", 15)
	v.SetDefault("LOG_LEVEL", "info")
}

// GetConfig reads .env from the working directory when present, then the environment
func GetConfig() (*Config, error) {
	return load(viper.New(), ".")
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetConfigName(".env")
	v.SetConfigType("toml")
	v.AddConfigPath(path)
	v.AutomaticEnv()

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	err = v.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	if c.Store != StoreRedis && c.Store != StoreMemory {
		return fmt.Errorf("invalid STORE %q: expected %s or %s", c.Store, StoreRedis, StoreMemory)
	}
	if c.RetryIntervalSeconds <= 0 {
		return fmt.Errorf("RETRY_INTERVAL_SECONDS must be positive")
	}
	if c.RetryBatchSize <= 0 || c.RetryConcurrency <= 0 {
		return fmt.Errorf("RETRY_BATCH_SIZE and RETRY_CONCURRENCY must be positive")
	}
	if c.DeliveryTimeoutSeconds <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

func (c Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c Config) DeliveredRetention() time.Duration {
	return time.Duration(c.DeliveredRetentionDays) * 24 * time.Hour
}

func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

func (c Config) AlertWindow() time.Duration {
	return time.Duration(c.AlertWindowMinutes) * time.Minute
}
