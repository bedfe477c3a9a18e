// Package config provides configuration management for SNGO nodes
package config

import (
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete SNGO configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// TCP transport configuration
	Transport TransportConfig `yaml:"transport" json:"transport"`

	// Actor runtime configuration
	Actor ActorConfig `yaml:"actor" json:"actor"`

	// Monitoring configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, console)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Fields to include in every log entry
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// TransportConfig contains TCP transport configuration
type TransportConfig struct {
	// Addresses to listen on ("host:port", port 0 for an ephemeral port)
	Listen []string `yaml:"listen" json:"listen"`

	// Enable TCP keep-alive
	KeepAlive bool `yaml:"keep_alive" json:"keep_alive"`

	// Keep-alive interval
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval" json:"keep_alive_interval"`

	// Disable Nagle's algorithm
	NoDelay bool `yaml:"no_delay" json:"no_delay"`

	// Outbound connection timeout
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`

	// Largest accepted frame body in bytes
	MaxFrameSize int `yaml:"max_frame_size" json:"max_frame_size"`

	// Retry delays for transient accept errors
	AcceptBackoff BackoffConfig `yaml:"accept_backoff" json:"accept_backoff"`

	// Stop a listener when setting up one of its connections fails
	StopOnConnectionError bool `yaml:"stop_on_connection_error" json:"stop_on_connection_error"`

	// Longest time one frame write may block before the stream is closed
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// Longest time the router waits for a busy connection before dropping
	RouteTimeout time.Duration `yaml:"route_timeout" json:"route_timeout"`
}

// BackoffConfig contains exponential backoff bounds
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial" json:"initial"`
	Max     time.Duration `yaml:"max" json:"max"`
}

// ActorConfig contains actor runtime configuration
type ActorConfig struct {
	// Worker inbox capacity
	MailboxSize int `yaml:"mailbox_size" json:"mailbox_size"`

	// Time allowed for a graceful node shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MonitorConfig contains monitoring configuration
type MonitorConfig struct {
	// Enable the metrics HTTP server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// HTTP server address
	Address string `yaml:"address" json:"address"`

	// Metrics endpoint path
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sngo-node",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       false,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "console",
			Output: "stderr",
		},
		Transport: TransportConfig{
			Listen:            []string{"127.0.0.1:4000"},
			KeepAlive:         true,
			KeepAliveInterval: 30 * time.Second,
			NoDelay:           true,
			DialTimeout:       10 * time.Second,
			MaxFrameSize:      16 * 1024 * 1024,
			WriteTimeout:      30 * time.Second,
			RouteTimeout:      time.Second,
			AcceptBackoff: BackoffConfig{
				Initial: 5 * time.Millisecond,
				Max:     time.Second,
			},
		},
		Actor: ActorConfig{
			MailboxSize:     1000,
			ShutdownTimeout: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled:     false,
			Address:     "127.0.0.1:9090",
			MetricsPath: "/metrics",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName.GenWithStackByArgs()
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment.GenWithStackByArgs(c.App.Environment)
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel.GenWithStackByArgs(c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return ErrInvalidLogFormat.GenWithStackByArgs(c.Log.Format)
	}

	if c.Transport.MaxFrameSize <= 0 {
		return ErrInvalidFrameSize.GenWithStackByArgs(c.Transport.MaxFrameSize)
	}
	if c.Transport.AcceptBackoff.Max < c.Transport.AcceptBackoff.Initial {
		return ErrInvalidBackoff.GenWithStackByArgs(c.Transport.AcceptBackoff.Initial, c.Transport.AcceptBackoff.Max)
	}

	if c.Actor.MailboxSize <= 0 {
		return ErrInvalidMailboxSize.GenWithStackByArgs(c.Actor.MailboxSize)
	}
	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
