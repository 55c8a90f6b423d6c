// Package config loads application configuration from config files and
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

// Config is the top-level application configuration.
type Config struct {
	Server types.ServerConfig `mapstructure:"server"`
	Data   types.DataConfig   `mapstructure:"data"`
	Store  types.StoreConfig  `mapstructure:"store"`
	Notify types.NotifyConfig `mapstructure:"notify"`
}

// Load reads .env, then config.yaml from the given directory, then applies
// environment overrides (prefix TRADING, dots as underscores).
func Load(dir string) (*Config, error) {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("TRADING")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.websocketPath", "/ws")
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("server.enableMetrics", true)

	v.SetDefault("data.dataDir", "./data")
	v.SetDefault("data.source", "synthetic")
	v.SetDefault("data.cacheBars", 10000)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.addr", "localhost:9000")
	v.SetDefault("store.database", "trading")

	v.SetDefault("notify.enabled", false)
}
