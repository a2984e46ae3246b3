// Package config
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/funneldash/dashcore/internal/models"
	"github.com/funneldash/dashcore/internal/normalizer"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DASH_"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	CORS       CORSConfig       `yaml:"cors"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	ReadTimeoutMS     int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS    int    `yaml:"write_timeout_ms"`
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAgeSeconds  int      `yaml:"max_age_seconds"`
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MaxConns                 int `yaml:"max_conns"`
	MinConns                 int `yaml:"min_conns"`
	MaxConnLifetimeMinutes   int `yaml:"max_conn_lifetime_minutes"`
	MaxConnIdleTimeMinutes   int `yaml:"max_conn_idle_time_minutes"`
	HealthCheckPeriodSeconds int `yaml:"health_check_period_seconds"`
}

type DatabaseConfig struct {
	Host           string     `yaml:"host"`
	Port           int        `yaml:"port"`
	User           string     `yaml:"user"`
	Password       string     `yaml:"password"`
	DBName         string     `yaml:"dbname"`
	SSLMode        string     `yaml:"ssl_mode"`
	MigrateOnStart bool       `yaml:"migrate_on_start"`
	Pool           PoolConfig `yaml:"pool"`
}

type AuthConfig struct {
	JWTSecret       string           `yaml:"jwt_secret"`
	Issuer          string           `yaml:"issuer"`
	TokenTTLMinutes int              `yaml:"token_ttl_minutes"`
	Operators       []OperatorConfig `yaml:"operators"`
}

// OperatorConfig is an account accepted by POST /api/v1/auth/login.
// Generate password_hash with -hash-password.
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// ChannelConfig declares one realtime channel opened at startup
type ChannelConfig struct {
	Name      string            `yaml:"name"`
	Table     string            `yaml:"table"`
	Operation string            `yaml:"operation"`
	Row       *models.RowFilter `yaml:"row,omitempty"`
}

// Filter converts the declaration into a topic filter
func (c ChannelConfig) Filter() (models.TopicFilter, error) {
	op, err := models.ParseOperation(c.Operation)
	if err != nil {
		return models.TopicFilter{}, fmt.Errorf("channel %q: %w", c.Name, err)
	}
	return models.TopicFilter{Table: c.Table, Operation: op, Row: c.Row}, nil
}

type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMS int `yaml:"base_delay_ms"`
}

type RealtimeConfig struct {
	NotifyChannel    string          `yaml:"notify_channel"`
	ConnectTimeoutMS int             `yaml:"connect_timeout_ms"`
	Retry            RetryConfig     `yaml:"retry"`
	Channels         []ChannelConfig `yaml:"channels"`
}

type DashboardConfig struct {
	EventCapacity        int `yaml:"event_capacity"`
	AlertCapacity        int `yaml:"alert_capacity"`
	HistoryCapacity      int `yaml:"history_capacity"`
	RetentionSeconds     int `yaml:"retention_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

type AlertsConfig struct {
	ErrorWarningThreshold  int64              `yaml:"error_warning_threshold"`
	ErrorCriticalThreshold int64              `yaml:"error_critical_threshold"`
	Rules                  []models.AlertRule `yaml:"rules"`
}

type NormalizerConfig struct {
	Rules []normalizer.Rule `yaml:"rules"`
}

type RefreshConfig struct {
	WindowHours         int `yaml:"window_hours"`
	AutoIntervalSeconds int `yaml:"auto_interval_seconds"`
	TimeoutMS           int `yaml:"timeout_ms"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from file and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and env overrides, then validates
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = 30000
	}
	if c.Server.WriteTimeoutMS == 0 {
		c.Server.WriteTimeoutMS = 30000
	}
	if c.Server.ShutdownTimeoutMS == 0 {
		c.Server.ShutdownTimeoutMS = 30000
	}

	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	c.Database.Pool.ApplyDefaults()

	if c.Auth.TokenTTLMinutes == 0 {
		c.Auth.TokenTTLMinutes = 60
	}

	if c.Realtime.NotifyChannel == "" {
		c.Realtime.NotifyChannel = "dashcore_changes"
	}
	if c.Realtime.ConnectTimeoutMS == 0 {
		c.Realtime.ConnectTimeoutMS = 10000
	}
	if c.Realtime.Retry.MaxRetries == 0 {
		c.Realtime.Retry.MaxRetries = 5
	}
	if c.Realtime.Retry.BaseDelayMS == 0 {
		c.Realtime.Retry.BaseDelayMS = 1000
	}

	if c.Dashboard.EventCapacity == 0 {
		c.Dashboard.EventCapacity = 100
	}
	if c.Dashboard.AlertCapacity == 0 {
		c.Dashboard.AlertCapacity = 50
	}
	if c.Dashboard.HistoryCapacity == 0 {
		c.Dashboard.HistoryCapacity = 24
	}
	if c.Dashboard.RetentionSeconds == 0 {
		c.Dashboard.RetentionSeconds = 300
	}
	if c.Dashboard.SweepIntervalSeconds == 0 {
		c.Dashboard.SweepIntervalSeconds = 60
	}

	if c.Alerts.ErrorWarningThreshold == 0 {
		c.Alerts.ErrorWarningThreshold = 10
	}
	if c.Alerts.ErrorCriticalThreshold == 0 {
		c.Alerts.ErrorCriticalThreshold = 50
	}

	if c.Refresh.WindowHours == 0 {
		c.Refresh.WindowHours = 24
	}
	if c.Refresh.TimeoutMS == 0 {
		c.Refresh.TimeoutMS = 15000
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "dashcore"
	}
	if c.Metrics.Subsystem == "" {
		c.Metrics.Subsystem = "pipeline"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate ensures all required configuration values are set
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%sAUTH_JWT_SECRET is required (minimum 32 characters)", EnvPrefix)
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters")
	}

	for _, op := range c.Auth.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			return fmt.Errorf("auth operators need username and password_hash")
		}
	}

	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host and dbname are required")
	}

	if !c.Logging.IsLogLevelValid() {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	if c.Realtime.Retry.MaxRetries < 0 {
		return fmt.Errorf("realtime.retry.max_retries must not be negative")
	}
	if c.Alerts.ErrorCriticalThreshold < c.Alerts.ErrorWarningThreshold {
		return fmt.Errorf("alerts.error_critical_threshold must be >= error_warning_threshold")
	}

	seen := make(map[string]bool, len(c.Realtime.Channels))
	for _, ch := range c.Realtime.Channels {
		if ch.Name == "" {
			return fmt.Errorf("realtime channel name is required")
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate realtime channel %q", ch.Name)
		}
		seen[ch.Name] = true
		if _, err := ch.Filter(); err != nil {
			return err
		}
	}

	return nil
}

// applyEnvOverrides checks for environment variables with the DASH_ prefix
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if v := os.Getenv(EnvPrefix + "SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv(EnvPrefix + "SERVER_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Server.Port)
	}

	// Database overrides
	if v := os.Getenv(EnvPrefix + "DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv(EnvPrefix + "DATABASE_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Database.Port)
	}
	if v := os.Getenv(EnvPrefix + "DATABASE_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv(EnvPrefix + "DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv(EnvPrefix + "DATABASE_DBNAME"); v != "" {
		cfg.Database.DBName = v
	}

	// Auth overrides
	if v := os.Getenv(EnvPrefix + "AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	// Realtime overrides
	if v := os.Getenv(EnvPrefix + "REALTIME_MAX_RETRIES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Realtime.Retry.MaxRetries)
	}
	if v := os.Getenv(EnvPrefix + "REALTIME_BASE_DELAY_MS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Realtime.Retry.BaseDelayMS)
	}

	// Alert overrides
	if v := os.Getenv(EnvPrefix + "ALERTS_ERROR_WARNING_THRESHOLD"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Alerts.ErrorWarningThreshold)
	}
	if v := os.Getenv(EnvPrefix + "ALERTS_ERROR_CRITICAL_THRESHOLD"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Alerts.ErrorCriticalThreshold)
	}

	// Logging overrides
	if v := os.Getenv(EnvPrefix + "LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// TokenTTL returns the lifetime of tokens issued by login
func (a *AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// ReadTimeout returns the read timeout as a duration
func (s *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the write timeout as a duration
func (s *ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget as a duration
func (s *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMS) * time.Millisecond
}

// Addr returns host:port
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ConnString returns the PostgreSQL connection string in postgres:// URL format
func (d *DatabaseConfig) ConnString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}

	query := url.Values{}
	if d.SSLMode != "" {
		query.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = query.Encode()

	return u.String()
}

// ApplyDefaults sets default values for pool configuration
func (p *PoolConfig) ApplyDefaults() {
	if p.MaxConns == 0 {
		p.MaxConns = 10
	}
	if p.MinConns == 0 {
		p.MinConns = 2
	}
	if p.MaxConnLifetimeMinutes == 0 {
		p.MaxConnLifetimeMinutes = 60
	}
	if p.MaxConnIdleTimeMinutes == 0 {
		p.MaxConnIdleTimeMinutes = 15
	}
	if p.HealthCheckPeriodSeconds == 0 {
		p.HealthCheckPeriodSeconds = 30
	}
}

// MaxConnLifetime returns the max connection lifetime as a duration
func (p *PoolConfig) MaxConnLifetime() time.Duration {
	return time.Duration(p.MaxConnLifetimeMinutes) * time.Minute
}

// MaxConnIdleTime returns the max connection idle time as a duration
func (p *PoolConfig) MaxConnIdleTime() time.Duration {
	return time.Duration(p.MaxConnIdleTimeMinutes) * time.Minute
}

// HealthCheckPeriod returns the health check period as a duration
func (p *PoolConfig) HealthCheckPeriod() time.Duration {
	return time.Duration(p.HealthCheckPeriodSeconds) * time.Second
}

// ConnectTimeout bounds one subscribe attempt
func (r *RealtimeConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutMS) * time.Millisecond
}

// BaseDelay is the first reconnection backoff
func (r *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// Retention returns the event retention window as a duration
func (d *DashboardConfig) Retention() time.Duration {
	return time.Duration(d.RetentionSeconds) * time.Second
}

// SweepInterval returns the housekeeping period as a duration
func (d *DashboardConfig) SweepInterval() time.Duration {
	return time.Duration(d.SweepIntervalSeconds) * time.Second
}

// Window returns the refresh look-back as a duration
func (r *RefreshConfig) Window() time.Duration {
	return time.Duration(r.WindowHours) * time.Hour
}

// AutoInterval returns the degraded-mode refresh period. Zero disables it.
func (r *RefreshConfig) AutoInterval() time.Duration {
	return time.Duration(r.AutoIntervalSeconds) * time.Second
}

// Timeout bounds one refresh
func (r *RefreshConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// IsLogLevelValid checks if the log level is valid
func (l *LoggingConfig) IsLogLevelValid() bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}

// InitLogger builds the process logger and installs it as slog's default
func InitLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// DumpExampleConfig writes an example configuration to the provided writer
func DumpExampleConfig(w io.Writer) error {
	example := &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeoutMS:     30000,
			WriteTimeoutMS:    30000,
			ShutdownTimeoutMS: 30000,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAgeSeconds:  3600,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "dashcore",
			Password:       "changeme",
			DBName:         "funnel",
			SSLMode:        "disable",
			MigrateOnStart: true,
			Pool: PoolConfig{
				MaxConns:                 10,
				MinConns:                 2,
				MaxConnLifetimeMinutes:   60,
				MaxConnIdleTimeMinutes:   15,
				HealthCheckPeriodSeconds: 30,
			},
		},
		Auth: AuthConfig{
			JWTSecret:       "your-secret-key-minimum-32-chars-required",
			Issuer:          "dashcore",
			TokenTTLMinutes: 60,
			Operators: []OperatorConfig{
				{Username: "ops", PasswordHash: "$2a$10$replace.with.output.of.dashcore.hash-password.flag"},
			},
		},
		Realtime: RealtimeConfig{
			NotifyChannel:    "dashcore_changes",
			ConnectTimeoutMS: 10000,
			Retry: RetryConfig{
				MaxRetries:  5,
				BaseDelayMS: 1000,
			},
			Channels: []ChannelConfig{
				{Name: "sessions", Table: "diagnosis_sessions", Operation: "*"},
				{Name: "users", Table: "users", Operation: "*"},
				{Name: "verifications", Table: "verifications", Operation: "*"},
				{Name: "errors", Table: "error_logs", Operation: "INSERT"},
			},
		},
		Dashboard: DashboardConfig{
			EventCapacity:        100,
			AlertCapacity:        50,
			HistoryCapacity:      24,
			RetentionSeconds:     300,
			SweepIntervalSeconds: 60,
		},
		Alerts: AlertsConfig{
			ErrorWarningThreshold:  10,
			ErrorCriticalThreshold: 50,
			Rules: []models.AlertRule{
				{
					ID:        "no-active-sessions",
					MetricKey: models.CounterActiveSessions,
					Condition: models.ConditionLessThan,
					Threshold: 1,
					Message:   "No active diagnosis sessions",
					Enabled:   false,
					Severity:  models.SeverityInfo,
				},
			},
		},
		Refresh: RefreshConfig{
			WindowHours:         24,
			AutoIntervalSeconds: 30,
			TimeoutMS:           15000,
		},
		Metrics: MetricsConfig{
			Namespace: "dashcore",
			Subsystem: "pipeline",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	// Create a YAML node for custom formatting
	var node yaml.Node
	if err := node.Encode(example); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	header := `# =============================================================================
# dashcore Example Configuration
# =============================================================================
# Copy this file to config.yaml and modify it according to your needs.
#
# Environment variable overrides follow the pattern: DASH_<SECTION>_<KEY>
# Example: DASH_DATABASE_HOST, DASH_AUTH_JWT_SECRET
# =============================================================================

`
	if _, err := fmt.Fprint(w, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	footer := `
# =============================================================================
# Notes:
# =============================================================================
#
# 1. Realtime channels receive pg_notify payloads published by the triggers
#    installed with database.migrate_on_start. Leaving channels empty runs the
#    dashboard on refresh only.
#
# 2. normalizer.rules appends classification rules to the built-in ones.
#
# 3. refresh.auto_interval_seconds refreshes counters while any channel is
#    not subscribed. Set 0 to disable.
# =============================================================================
`
	if _, err := fmt.Fprint(w, footer); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}

	return nil
}
