// Package config provides configuration management for the lapwatch services.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. LAPWATCH_DATABASE_HOST
	EnvPrefix = "LAPWATCH"

	// DefaultPath is used when no config path is given
	DefaultPath = "config/config.yaml"

	configPathEnv = EnvPrefix + "_CONFIG_PATH"
)

// ResolvePath returns path, falling back to LAPWATCH_CONFIG_PATH and then DefaultPath
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(configPathEnv); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads and parses the configuration from file and environment variables.
// It expands environment variable placeholders in the YAML file (${VAR_NAME}).
func Load(configPath string) (*Config, error) {
	configPath = ResolvePath(configPath)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := newViper()
	setDefaults(v)

	if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return unmarshal(v)
}

// LoadWithDefaults behaves like Load but tolerates a missing file, relying on
// defaults and environment variables instead.
func LoadWithDefaults(configPath string) (*Config, error) {
	configPath = ResolvePath(configPath)

	v := newViper()
	setDefaults(v)

	if data, err := os.ReadFile(configPath); err == nil {
		if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lapwatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "lapwatch")
	v.SetDefault("database.user", "lapwatch")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.max_idle_connections", 2)

	v.SetDefault("http.address", ":8000")
	v.SetDefault("http.read_timeout_seconds", 10)
	v.SetDefault("http.write_timeout_seconds", 15)

	v.SetDefault("cache.default_ttl_seconds", 30)
	v.SetDefault("cache.laps_ttl_seconds", 60)

	v.SetDefault("race.duration_hours", 24)
	v.SetDefault("race.team_size", 3)

	v.SetDefault("registry.base_url", "https://statistik.d-u-v.org")
	v.SetDefault("registry.search_path", "/api/search")
	v.SetDefault("registry.profile_path", "/json/mgetresultperson.php")
	v.SetDefault("registry.user_agent", "lapwatch/1.0")
	v.SetDefault("registry.timeout_seconds", 10)
	v.SetDefault("registry.max_retries", 2)
	v.SetDefault("registry.rate_limit", 1.0)
	v.SetDefault("registry.circuit_breaker_max", 5)

	v.SetDefault("matcher.auto_accept_threshold", 0.8)
	v.SetDefault("matcher.ambiguity_margin", 0.05)
	v.SetDefault("matcher.birth_year_tolerance", 1)
	v.SetDefault("matcher.max_candidates", 10)
	v.SetDefault("matcher.batch_interval_seconds", 0)

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.interval_seconds", 300)
	v.SetDefault("events.milestone_km", 50)
	v.SetDefault("events.significant_move_positions", 8)
	v.SetDefault("events.significant_move_top_n", 5)
	v.SetDefault("events.significant_move_top_gain", 3)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("health.port", "8081")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.daemon_addr", "127.0.0.1:2000")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}
