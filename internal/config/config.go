/**
 * @description
 * This file handles configuration management for the subscription engine. It
 * loads settings from environment variables via viper, providing defaults for
 * cron schedules and the retry policy.
 */

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`

	DueSweepSchedule      string `mapstructure:"DUE_SWEEP_SCHEDULE"`
	ReminderSchedule      string `mapstructure:"REMINDER_SCHEDULE"`
	ConflictSweepSchedule string `mapstructure:"CONFLICT_SWEEP_SCHEDULE"`
	RetryPollSchedule     string `mapstructure:"RETRY_POLL_SCHEDULE"`

	RetryMaxAttempts int `mapstructure:"RETRY_MAX_ATTEMPTS"`
	LockTTLSeconds   int `mapstructure:"LOCK_TTL_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	viper.SetDefault("DUE_SWEEP_SCHEDULE", "0 6 * * *")         // Daily at 06:00.
	viper.SetDefault("REMINDER_SCHEDULE", "0 18 * * *")         // Daily at 18:00.
	viper.SetDefault("CONFLICT_SWEEP_SCHEDULE", "30 */6 * * *") // Every 6 hours.
	viper.SetDefault("RETRY_POLL_SCHEDULE", "*/5 * * * *")      // Every 5 minutes.
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("LOCK_TTL_SECONDS", 30)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("DUE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("REMINDER_SCHEDULE")
	_ = viper.BindEnv("CONFLICT_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RETRY_POLL_SCHEDULE")
	_ = viper.BindEnv("RETRY_MAX_ATTEMPTS")
	_ = viper.BindEnv("LOCK_TTL_SECONDS")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if strings.TrimSpace(config.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL must be configured")
	}
	if strings.TrimSpace(config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET must be configured")
	}

	return &config, nil
}
