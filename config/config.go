// Package config contains rangekv configuration definitions.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/rangekv/go-rangekv/backfill"
)

const defaultConfigFileName = "./config.toml"

// Config defines the top level configuration for a rangekv node.
type Config struct {
	BaseConfig `mapstructure:"main"`
	Backfill   backfill.Config `mapstructure:"backfill"`
}

// BaseConfig defines the default configuration options for rangekv.
type BaseConfig struct {
	ConfigFile string `mapstructure:"config"`

	LogLevel string `mapstructure:"log-level"`

	CollectMetrics bool `mapstructure:"metrics"`
	MetricsPort    int  `mapstructure:"metrics-port"`
}

// DefaultConfig returns the default configuration for a rangekv node.
func DefaultConfig() Config {
	return Config{
		BaseConfig: BaseConfig{
			LogLevel:    "info",
			MetricsPort: 1010,
		},
		Backfill: backfill.DefaultConfig(),
	}
}

// LoadConfig loads config from the file at fileLocation into vip.
func LoadConfig(fileLocation string, vip *viper.Viper) error {
	if fileLocation == "" {
		fileLocation = defaultConfigFileName
	}
	vip.SetConfigFile(fileLocation)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Unmarshal decodes vip's state into cfg.
func Unmarshal(vip *viper.Viper, cfg *Config) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := vip.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}
