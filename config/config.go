// Package config loads devicecore's runtime configuration from layered
// sources: compiled-in defaults, an optional YAML file, then
// environment variable overrides, in that precedence order.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/viper"
)

// Config mirrors the tunables named in spec.md §6. Load starts from
// Defaults() and overlays any value set in the file or environment.
type Config struct {
	ServiceCapacity   int           `mapstructure:"service_capacity" env:"DEVICECORE_SERVICE_CAPACITY"`
	EventTypeCapacity int           `mapstructure:"event_type_capacity" env:"DEVICECORE_EVENT_TYPE_CAPACITY"`
	SubscriptionCap   int           `mapstructure:"subscription_capacity" env:"DEVICECORE_SUBSCRIPTION_CAPACITY"`
	QueueSlots        int           `mapstructure:"queue_slots" env:"DEVICECORE_QUEUE_SLOTS"`
	MaxEventDataSize  int           `mapstructure:"max_event_data_size" env:"DEVICECORE_MAX_EVENT_DATA_SIZE"`
	AppCapacity       int           `mapstructure:"app_capacity" env:"DEVICECORE_APP_CAPACITY"`
	WarnThresholdMS   int           `mapstructure:"warn_threshold_ms" env:"DEVICECORE_WARN_THRESHOLD_MS"`
	HandlerTimeoutMS  int           `mapstructure:"handler_timeout_ms" env:"DEVICECORE_HANDLER_TIMEOUT_MS"`
	WatchdogInterval  time.Duration `mapstructure:"watchdog_interval" env:"DEVICECORE_WATCHDOG_INTERVAL"`
	StorageDir        string        `mapstructure:"storage_dir" env:"DEVICECORE_STORAGE_DIR"`
}

// Defaults returns the compile-time knobs from spec.md §6.
func Defaults() Config {
	return Config{
		ServiceCapacity:   16,
		EventTypeCapacity: 64,
		SubscriptionCap:   32,
		QueueSlots:        32,
		MaxEventDataSize:  512,
		AppCapacity:       16,
		WarnThresholdMS:   50,
		HandlerTimeoutMS:  0,
		WatchdogInterval:  time.Second,
		StorageDir:        "/var/lib/devicecore/apps",
	}
}

// Load builds a Config starting from Defaults, applying an optional
// YAML file at path (skipped if empty or missing), then environment
// variable overrides, matching the precedence env > file > defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("service_capacity", cfg.ServiceCapacity)
	v.SetDefault("event_type_capacity", cfg.EventTypeCapacity)
	v.SetDefault("subscription_capacity", cfg.SubscriptionCap)
	v.SetDefault("queue_slots", cfg.QueueSlots)
	v.SetDefault("max_event_data_size", cfg.MaxEventDataSize)
	v.SetDefault("app_capacity", cfg.AppCapacity)
	v.SetDefault("warn_threshold_ms", cfg.WarnThresholdMS)
	v.SetDefault("handler_timeout_ms", cfg.HandlerTimeoutMS)
	v.SetDefault("watchdog_interval", cfg.WatchdogInterval)
	v.SetDefault("storage_dir", cfg.StorageDir)

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return cfg, err
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
