// Package config loads broker runtime configuration from environment
// variables, an optional config file, and hard defaults, following
// go-server-3's viper-based layout.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the broker process.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the broker's listen address and session limits.
type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	WSPath            string        `mapstructure:"ws_path"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	AcceptRatePerSec  float64       `mapstructure:"accept_rate_per_sec"`
	AcceptBurst       int           `mapstructure:"accept_burst"`
}

// MetricsConfig controls the Prometheus/diagnostics HTTP surface.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from a best-effort local .env file, then
// DEVCONSOLE_-prefixed environment variables, then an optional
// devconsole.yaml config file, falling back to the defaults below.
func Load() (Config, error) {
	// Best-effort: a missing .env is not an error, matching the corpus
	// pattern of loading it before the real config layer reads the
	// environment.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.listen_addr", "127.0.0.1:9001")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.accept_rate_per_sec", 200.0)
	v.SetDefault("server.accept_burst", 50)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("devconsole")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("DEVCONSOLE")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
