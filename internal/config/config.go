// Package config loads settings from the environment, an optional .env file
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration of the service and CLI
type Config struct {
	HTTPAddress      string        `mapstructure:"HTTP_ADDRESS"`
	HTTPReadTimeout  time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	DeliveryPollSchedule string        `mapstructure:"DELIVERY_POLL_SCHEDULE"`
	DeliveryMaxAttempts  int           `mapstructure:"DELIVERY_MAX_ATTEMPTS"`
	DeliveryRetryDelay   time.Duration `mapstructure:"DELIVERY_RETRY_DELAY"`
	DeliveryLease        time.Duration `mapstructure:"DELIVERY_LEASE"`
	DeliveryBatchSize    int           `mapstructure:"DELIVERY_BATCH_SIZE"`
	DeliveryWorkers      int           `mapstructure:"DELIVERY_WORKERS"`
	DeliveryHTTPTimeout  time.Duration `mapstructure:"DELIVERY_HTTP_TIMEOUT"`

	ExportConcurrency  int           `mapstructure:"EXPORT_CONCURRENCY"`
	ZUGFeRDProfile     string        `mapstructure:"ZUGFERD_PROFILE"`
	ValidationCacheTTL time.Duration `mapstructure:"VALIDATION_CACHE_TTL"`

	SendGridAPIKey    string `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail string `mapstructure:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string `mapstructure:"SENDGRID_FROM_NAME"`
	SendGridHost      string `mapstructure:"SENDGRID_HOST"`

	AMQPURL string `mapstructure:"AMQP_URL"`

	LLMAPIKey  string `mapstructure:"LLM_API_KEY"`
	LLMBaseURL string `mapstructure:"LLM_BASE_URL"`
	LLMModel   string `mapstructure:"LLM_MODEL"`

	TrustStorePEM string `mapstructure:"TRUST_STORE_PEM"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogOutput string `mapstructure:"LOG_OUTPUT"`
}

var defaults = map[string]any{
	"HTTP_ADDRESS":           ":8080",
	"HTTP_READ_TIMEOUT":      "30s",
	"HTTP_WRITE_TIMEOUT":     "120s",
	"DATABASE_DRIVER":        "sqlite",
	"DATABASE_URL":           "erechnung.db",
	"DELIVERY_POLL_SCHEDULE": "@every 30s",
	"DELIVERY_MAX_ATTEMPTS":  3,
	"DELIVERY_RETRY_DELAY":   "5m",
	"DELIVERY_LEASE":         "2m",
	"DELIVERY_BATCH_SIZE":    50,
	"DELIVERY_WORKERS":       4,
	"DELIVERY_HTTP_TIMEOUT":  "30s",
	"EXPORT_CONCURRENCY":     4,
	"ZUGFERD_PROFILE":        "EN16931",
	"VALIDATION_CACHE_TTL":   "5m",
	"SENDGRID_API_KEY":       "",
	"SENDGRID_FROM_EMAIL":    "",
	"SENDGRID_FROM_NAME":     "",
	"SENDGRID_HOST":          "",
	"AMQP_URL":               "",
	"LLM_API_KEY":            "",
	"LLM_BASE_URL":           "",
	"LLM_MODEL":              "",
	"TRUST_STORE_PEM":        "",
	"LOG_LEVEL":              "info",
	"LOG_FORMAT":             "console",
	"LOG_OUTPUT":             "stderr",
}

// Load reads .env (if present), the environment and configFile (if given).
// Environment variables win over the config file.
func Load(configFile string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot start with
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver))
	}
	if c.DatabaseDriver == "postgres" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
	}
	if c.DeliveryMaxAttempts < 1 {
		errs = append(errs, errors.New("DELIVERY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.DeliveryRetryDelay < 0 {
		errs = append(errs, errors.New("DELIVERY_RETRY_DELAY must not be negative"))
	}
	if c.ExportConcurrency < 1 {
		errs = append(errs, errors.New("EXPORT_CONCURRENCY must be at least 1"))
	}
	if c.SendGridAPIKey != "" && c.SendGridFromEmail == "" {
		errs = append(errs, errors.New("SENDGRID_FROM_EMAIL is required when SENDGRID_API_KEY is set"))
	}
	return errors.Join(errs...)
}
