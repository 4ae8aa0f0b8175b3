package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Settings holds everything the process needs at boot. Values come from an
// optional refundflow.yaml in the working directory, overridden by
// REFUNDFLOW_* environment variables.
type Settings struct {
	HTTPAddr      string         `mapstructure:"http_addr" validate:"required"`
	DatabaseURL   string         `mapstructure:"database_url" validate:"required"`
	RedisAddr     string         `mapstructure:"redis_addr" validate:"required"`
	RedisPassword string         `mapstructure:"redis_password"`
	JWTSecret     string         `mapstructure:"jwt_secret" validate:"required,min=16"`
	MLBaseURL     string         `mapstructure:"ml_base_url" validate:"required,url"`
	Outbox        OutboxSettings `mapstructure:"outbox"`
}

// OutboxSettings bounds the dispatcher's polling behaviour.
type OutboxSettings struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`
	BatchSize    int           `mapstructure:"batch_size" validate:"required,min=1"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"required,min=1"`
}

// Validate checks the loaded settings.
func (s *Settings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("config: invalid settings: %w", err)
	}
	return nil
}

// Load reads settings from file and environment.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigName("refundflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_attempts", 20)

	v.SetEnvPrefix("REFUNDFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind explicitly so env vars resolve even without a config file.
	for _, key := range []string{
		"http_addr",
		"database_url",
		"redis_addr",
		"redis_password",
		"jwt_secret",
		"ml_base_url",
		"outbox.poll_interval",
		"outbox.batch_size",
		"outbox.max_attempts",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	cfg := &Settings{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
