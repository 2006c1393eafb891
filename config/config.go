// Package config loads server settings from LABBOOK_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. LABBOOK_HTTP_PORT.
const Prefix = "LABBOOK"

type App struct {
	// HTTP
	HTTPPort    int      `envconfig:"HTTP_PORT" default:"8080" validate:"min=1,max=65535"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`

	// Storage
	DBPath string `envconfig:"DB_PATH" default:"labbook.db" validate:"required"`

	// Calendar used to interpret leave dates
	Location string `envconfig:"LOCATION" default:"UTC"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	// Billing
	RatesFile string `envconfig:"RATES_FILE"`

	// Distributed locking; empty keeps the in-process locker
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"10s"`

	// Domain events; empty brokers disables publishing
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"labbook.events"`

	// Re-confirmation scheduler
	SchedulerEnabled  bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1h" validate:"min=1s"`
}

// Load reads the environment and validates the result.
func Load() (App, error) {
	var c App
	if err := envconfig.Process(Prefix, &c); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks field constraints and that Location names a known zone.
func (c App) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.TimeLocation(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TimeLocation resolves Location.
func (c App) TimeLocation() (*time.Location, error) {
	return time.LoadLocation(c.Location)
}
