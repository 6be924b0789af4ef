// Package config provides configuration management for the lapwatch services.
package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	HTTP     HTTPConfig     `mapstructure:"http" validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache" validate:"required"`
	Race     RaceConfig     `mapstructure:"race" validate:"required"`
	Registry RegistryConfig `mapstructure:"registry" validate:"required"`
	Matcher  MatcherConfig  `mapstructure:"matcher" validate:"required"`
	Events   EventsConfig   `mapstructure:"events" validate:"required"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// DatabaseConfig represents database connection configuration. Driver
// "memory" keeps everything in process and ignores the connection fields.
type DatabaseConfig struct {
	Driver             string `mapstructure:"driver" validate:"required,storagedriver"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-full"`
	MaxConnections     int    `mapstructure:"max_connections" validate:"omitempty,gt=0"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections" validate:"omitempty,gt=0"`
}

// HTTPConfig represents the public API server configuration
type HTTPConfig struct {
	Address             string `mapstructure:"address" validate:"required"`
	AdminToken          string `mapstructure:"admin_token"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds" validate:"gte=0"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds" validate:"gte=0"`
}

// CacheConfig represents the derived-data cache configuration
type CacheConfig struct {
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds" validate:"required,gt=0"`
	LapsTTLSeconds    int `mapstructure:"laps_ttl_seconds" validate:"omitempty,gt=0"`
}

// RaceConfig represents race scoring configuration
type RaceConfig struct {
	DurationHours float64          `mapstructure:"duration_hours" validate:"gte=0"`
	TeamSize      int              `mapstructure:"team_size" validate:"omitempty,gt=0"`
	AgeGroups     []AgeGroupConfig `mapstructure:"age_groups" validate:"agebands,dive"`
}

// AgeGroupConfig is one inclusive age bracket
type AgeGroupConfig struct {
	Name   string `mapstructure:"name" validate:"required"`
	MinAge int    `mapstructure:"min_age" validate:"gte=0"`
	MaxAge int    `mapstructure:"max_age" validate:"gtefield=MinAge"`
}

// RegistryConfig represents the external results registry client configuration
type RegistryConfig struct {
	BaseURL           string  `mapstructure:"base_url" validate:"required,url"`
	SearchPath        string  `mapstructure:"search_path" validate:"required"`
	ProfilePath       string  `mapstructure:"profile_path" validate:"required"`
	APIKey            string  `mapstructure:"api_key"`
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" validate:"required,gt=0"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"gte=0"`
	RateLimit         float64 `mapstructure:"rate_limit" validate:"required,gt=0"`
	CircuitBreakerMax int     `mapstructure:"circuit_breaker_max" validate:"omitempty,gt=0"`
}

// MatcherConfig represents identity matching thresholds
type MatcherConfig struct {
	AutoAcceptThreshold float64 `mapstructure:"auto_accept_threshold" validate:"required,gt=0,lte=1"`
	AmbiguityMargin     float64 `mapstructure:"ambiguity_margin" validate:"gte=0,lt=1"`
	BirthYearTolerance  int     `mapstructure:"birth_year_tolerance" validate:"gte=0"`
	MaxCandidates       int     `mapstructure:"max_candidates" validate:"omitempty,gt=0"`
	// BatchIntervalSeconds schedules batch matching of the active race. Zero disables it.
	BatchIntervalSeconds int `mapstructure:"batch_interval_seconds" validate:"gte=0"`
}

// EventsConfig represents event detector configuration
type EventsConfig struct {
	Enabled                  bool    `mapstructure:"enabled"`
	IntervalSeconds          int     `mapstructure:"interval_seconds" validate:"required,gt=0"`
	RunTimeoutSeconds        int     `mapstructure:"run_timeout_seconds" validate:"omitempty,gt=0"`
	MilestoneKm              float64 `mapstructure:"milestone_km" validate:"required,gt=0"`
	SignificantMovePositions int     `mapstructure:"significant_move_positions" validate:"gte=0"`
	SignificantMoveTopN      int     `mapstructure:"significant_move_top_n" validate:"gte=0"`
	SignificantMoveTopGain   int     `mapstructure:"significant_move_top_gain" validate:"gte=0"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// HealthConfig represents the health check server configuration
type HealthConfig struct {
	Port string `mapstructure:"port"`
}

// TracingConfig represents AWS X-Ray tracing configuration
type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	DaemonAddr string `mapstructure:"daemon_addr" validate:"required_if=Enabled true"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// DefaultTTL returns the cache default TTL
func (c *CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// LapsTTL returns the TTL of lap history entries
func (c *CacheConfig) LapsTTL() time.Duration {
	if c.LapsTTLSeconds <= 0 {
		return 2 * c.DefaultTTL()
	}
	return time.Duration(c.LapsTTLSeconds) * time.Second
}

// Duration returns the configured race duration
func (c *RaceConfig) Duration() time.Duration {
	return time.Duration(c.DurationHours * float64(time.Hour))
}

// Timeout returns the registry request timeout
func (c *RegistryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BatchInterval returns the batch matching interval
func (c *MatcherConfig) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalSeconds) * time.Second
}

// Interval returns the detector interval
func (c *EventsConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RunTimeout returns the per-run detector deadline
func (c *EventsConfig) RunTimeout() time.Duration {
	if c.RunTimeoutSeconds <= 0 {
		return c.Interval()
	}
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}
