// Package config provides configuration management for Steward.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Steward.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
	Streams   StreamsConfig   `mapstructure:"streams"`
	Providers ProvidersConfig `mapstructure:"providers"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Terminal  TerminalConfig  `mapstructure:"terminal"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// Driver selects sqlite (default, single file) or postgres.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ExecutionConfig holds sandboxed command execution configuration.
type ExecutionConfig struct {
	// Enabled gates all command execution. When false every run_command
	// request fails before any other check.
	Enabled bool `mapstructure:"enabled"`

	// WorkspaceRoot is the directory commands run in and the jail root
	// for all file tools.
	WorkspaceRoot string `mapstructure:"workspaceRoot"`

	// CommandTimeout is the per-command wall clock limit in seconds.
	CommandTimeout int `mapstructure:"commandTimeout"`

	// StdoutLimit and StderrLimit cap captured output bytes per stream.
	StdoutLimit int `mapstructure:"stdoutLimit"`
	StderrLimit int `mapstructure:"stderrLimit"`

	// NetworkIsolation removes network access from sandboxed commands.
	NetworkIsolation bool `mapstructure:"networkIsolation"`
}

// ApprovalsConfig holds the approval gateway configuration.
type ApprovalsConfig struct {
	// Mode is one of auto, auto_sandboxed, always_ask.
	Mode string `mapstructure:"mode"`

	// Timeout is how long a pending approval waits in seconds.
	Timeout int `mapstructure:"timeout"`
}

// StreamsConfig holds stream lifecycle configuration.
type StreamsConfig struct {
	// FlushIntervalMs is the text batching interval in milliseconds.
	FlushIntervalMs int `mapstructure:"flushIntervalMs"`

	// MaxTurns bounds the adapter's tool loop per user message.
	MaxTurns int `mapstructure:"maxTurns"`

	// SystemPrompt is threaded into every provider turn.
	SystemPrompt string `mapstructure:"systemPrompt"`
}

// ProvidersConfig holds LLM provider registry configuration.
type ProvidersConfig struct {
	// ManifestPath points at the providers.yaml manifest.
	ManifestPath string `mapstructure:"manifestPath"`

	// Default names the provider used when a request does not pick one.
	Default string `mapstructure:"default"`
}

// MCPConfig holds the embedded MCP server configuration.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TerminalConfig holds supervisor terminal configuration.
type TerminalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Shell   string `mapstructure:"shell"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// CommandTimeoutDuration returns the command timeout as a time.Duration.
func (e *ExecutionConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(e.CommandTimeout) * time.Second
}

// TimeoutDuration returns the approval timeout as a time.Duration.
func (a *ApprovalsConfig) TimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// FlushInterval returns the text batching interval as a time.Duration.
func (s *StreamsConfig) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalMs) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("STEWARD_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite file in the working directory
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "steward.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "steward")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "steward")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "steward-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Execution defaults - disabled until explicitly enabled
	v.SetDefault("execution.enabled", false)
	v.SetDefault("execution.workspaceRoot", ".")
	v.SetDefault("execution.commandTimeout", 120)
	v.SetDefault("execution.stdoutLimit", 1048576)
	v.SetDefault("execution.stderrLimit", 262144)
	v.SetDefault("execution.networkIsolation", false)

	// Approvals defaults - 5 minute window, sandboxed auto-approval
	v.SetDefault("approvals.mode", "auto_sandboxed")
	v.SetDefault("approvals.timeout", 300)

	// Streams defaults - ~60Hz text flushing, bounded tool loop
	v.SetDefault("streams.flushIntervalMs", 16)
	v.SetDefault("streams.maxTurns", 10)
	v.SetDefault("streams.systemPrompt", "")

	// Providers defaults
	v.SetDefault("providers.manifestPath", "providers.yaml")
	v.SetDefault("providers.default", "")

	// MCP defaults - disabled until explicitly enabled
	v.SetDefault("mcp.enabled", false)
	v.SetDefault("mcp.port", 9090)

	// Terminal defaults
	v.SetDefault("terminal.enabled", true)
	v.SetDefault("terminal.shell", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix STEWARD_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/steward/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("STEWARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("execution.workspaceRoot", "STEWARD_EXECUTION_WORKSPACE_ROOT")
	_ = v.BindEnv("execution.commandTimeout", "STEWARD_EXECUTION_COMMAND_TIMEOUT")
	_ = v.BindEnv("execution.stdoutLimit", "STEWARD_EXECUTION_STDOUT_LIMIT")
	_ = v.BindEnv("execution.stderrLimit", "STEWARD_EXECUTION_STDERR_LIMIT")
	_ = v.BindEnv("execution.networkIsolation", "STEWARD_EXECUTION_NETWORK_ISOLATION")
	_ = v.BindEnv("streams.flushIntervalMs", "STEWARD_STREAMS_FLUSH_INTERVAL_MS")
	_ = v.BindEnv("streams.maxTurns", "STEWARD_STREAMS_MAX_TURNS")
	_ = v.BindEnv("streams.systemPrompt", "STEWARD_STREAMS_SYSTEM_PROMPT")
	_ = v.BindEnv("providers.manifestPath", "STEWARD_PROVIDERS_MANIFEST_PATH")
	_ = v.BindEnv("database.dbName", "STEWARD_DATABASE_DB_NAME")
	_ = v.BindEnv("database.sslMode", "STEWARD_DATABASE_SSL_MODE")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/steward/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation
	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	// Execution validation
	if cfg.Execution.CommandTimeout <= 0 {
		errs = append(errs, "execution.commandTimeout must be positive")
	}
	if cfg.Execution.StdoutLimit <= 0 {
		errs = append(errs, "execution.stdoutLimit must be positive")
	}
	if cfg.Execution.StderrLimit <= 0 {
		errs = append(errs, "execution.stderrLimit must be positive")
	}

	// Approvals validation
	validModes := map[string]bool{"auto": true, "auto_sandboxed": true, "always_ask": true}
	if !validModes[strings.ToLower(cfg.Approvals.Mode)] {
		errs = append(errs, "approvals.mode must be one of: auto, auto_sandboxed, always_ask")
	}
	if cfg.Approvals.Timeout <= 0 {
		errs = append(errs, "approvals.timeout must be positive")
	}

	// Streams validation
	if cfg.Streams.FlushIntervalMs <= 0 {
		errs = append(errs, "streams.flushIntervalMs must be positive")
	}
	if cfg.Streams.MaxTurns <= 0 {
		errs = append(errs, "streams.maxTurns must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
