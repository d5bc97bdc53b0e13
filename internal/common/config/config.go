// Package config provides configuration management for the tabhub broker.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for tabhub.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Hub      HubConfig      `mapstructure:"hub"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Board    BoardConfig    `mapstructure:"board"`
	Captures CapturesConfig `mapstructure:"captures"`
	MCP      MCPConfig      `mapstructure:"mcp"`
}

// ServerConfig holds HTTP server configuration. The broker binds to
// localhost by default; it is a single-host control plane.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"readTimeout"`     // in seconds
	WriteTimeout    int    `mapstructure:"writeTimeout"`    // in seconds
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// HubConfig holds WebSocket broker configuration.
type HubConfig struct {
	ReplaySize       int `mapstructure:"replaySize"`
	DefaultTimeoutMs int `mapstructure:"defaultTimeoutMs"`
}

// AgentConfig holds assistant subprocess configuration.
type AgentConfig struct {
	Command        string   `mapstructure:"command"`
	AllowedTools   []string `mapstructure:"allowedTools"`
	PermissionMode string   `mapstructure:"permissionMode"`
	Model          string   `mapstructure:"model"`
}

// BoardConfig locates the workspace whose task board the broker serves.
type BoardConfig struct {
	Dir string `mapstructure:"dir"`
}

// CapturesConfig bounds the in-memory capture caches.
type CapturesConfig struct {
	SnapshotCap  int `mapstructure:"snapshotCap"`
	RecordingCap int `mapstructure:"recordingCap"`
}

// MCPConfig holds the embedded MCP server configuration.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads configuration from the default search paths.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration, preferring the given directory when set.
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TABHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit binds for camelCase keys the replacer cannot derive.
	_ = v.BindEnv("server.readTimeout", "TABHUB_SERVER_READ_TIMEOUT")
	_ = v.BindEnv("server.writeTimeout", "TABHUB_SERVER_WRITE_TIMEOUT")
	_ = v.BindEnv("server.shutdownTimeout", "TABHUB_SERVER_SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("logging.outputPath", "TABHUB_LOGGING_OUTPUT_PATH")
	_ = v.BindEnv("nats.clientId", "TABHUB_NATS_CLIENT_ID")
	_ = v.BindEnv("hub.replaySize", "TABHUB_HUB_REPLAY_SIZE")
	_ = v.BindEnv("hub.defaultTimeoutMs", "TABHUB_HUB_DEFAULT_TIMEOUT_MS")
	_ = v.BindEnv("agent.allowedTools", "TABHUB_AGENT_ALLOWED_TOOLS")
	_ = v.BindEnv("agent.permissionMode", "TABHUB_AGENT_PERMISSION_MODE")
	_ = v.BindEnv("captures.snapshotCap", "TABHUB_CAPTURES_SNAPSHOT_CAP")
	_ = v.BindEnv("captures.recordingCap", "TABHUB_CAPTURES_RECORDING_CAP")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tabhub/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.shutdownTimeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "tabhub")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("hub.replaySize", 100)
	v.SetDefault("hub.defaultTimeoutMs", 5000)

	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.allowedTools", []string{"Bash", "Read", "Edit", "Write", "Glob", "Grep", "WebFetch"})
	v.SetDefault("agent.permissionMode", "acceptEdits")
	v.SetDefault("agent.model", "")

	v.SetDefault("board.dir", ".")

	v.SetDefault("captures.snapshotCap", 50)
	v.SetDefault("captures.recordingCap", 20)

	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.port", 8788)
}

func (c *Config) validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.MCP.Enabled && (c.MCP.Port < 0 || c.MCP.Port > 65535) {
		errs = append(errs, fmt.Sprintf("mcp.port %d out of range", c.MCP.Port))
	}
	if c.Hub.ReplaySize < 1 {
		errs = append(errs, "hub.replaySize must be at least 1")
	}
	if c.Hub.DefaultTimeoutMs < 1 {
		errs = append(errs, "hub.defaultTimeoutMs must be at least 1")
	}
	if c.Agent.Command == "" {
		errs = append(errs, "agent.command must not be empty")
	}
	if c.Agent.PermissionMode == "" {
		errs = append(errs, "agent.permissionMode must not be empty")
	}
	if c.Captures.SnapshotCap < 1 {
		errs = append(errs, "captures.snapshotCap must be at least 1")
	}
	if c.Captures.RecordingCap < 1 {
		errs = append(errs, "captures.recordingCap must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Addr returns the host:port the broker listens on.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ReadTimeoutDuration returns the server read timeout.
func (c *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the server write timeout.
func (c *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// ShutdownTimeoutDuration returns the graceful shutdown deadline.
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// DefaultTimeout returns the default browser call timeout.
func (c *HubConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}
