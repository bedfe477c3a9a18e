package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// FormatOf returns the format matching the extension of filename.
func FormatOf(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", ErrUnsupportedFormat.GenWithStackByArgs(filepath.Ext(filename))
	}
}

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config

	// lookupEnv reads environment variables, os.LookupEnv by default
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	searchPaths := []string{".", "./config", "./configs", "/etc/sngo"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".sngo"))
	}
	return &Loader{
		searchPaths:   searchPaths,
		envPrefix:     "SNGO",
		defaultConfig: DefaultConfig(),
		lookupEnv:     os.LookupEnv,
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from filename, or from defaults and the
// environment alone when filename is empty.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.finish(l.defaults())
	}
	return l.LoadFromFile(filename)
}

// LoadFromFile loads configuration from a specific file. Fields missing from
// the file keep their default values.
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	format, err := FormatOf(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Annotatef(err, "read config file %s", filename)
	}
	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, errors.Annotatef(err, "load config file %s", filename)
	}
	return l.finish(config)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Annotate(err, "read configuration data")
	}
	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// AutoLoad discovers a configuration file in the search paths and loads
// it. Without a file, the defaults are used.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.findConfigFile()
	if err != nil {
		if ErrConfigFileNotFound.Equal(err) {
			return l.finish(l.defaults())
		}
		return nil, err
	}
	return l.LoadFromFile(configFile)
}

// finish applies environment overrides and validates.
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Annotate(err, "configuration validation failed")
	}
	return config, nil
}

// defaults returns a copy of the default configuration.
func (l *Loader) defaults() *Config {
	src := l.defaultConfig
	if src == nil {
		src = DefaultConfig()
	}
	config := *src
	config.Transport.Listen = append([]string(nil), src.Transport.Listen...)
	if src.Log.Fields != nil {
		config.Log.Fields = make(map[string]string, len(src.Log.Fields))
		for k, v := range src.Log.Fields {
			config.Log.Fields[k] = v
		}
	}
	return &config
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{
		"sngo.yaml", "sngo.yml",
		"config.yaml", "config.yml",
		"sngo.json", "config.json",
	}
	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}
	return "", ErrConfigFileNotFound.GenWithStackByArgs()
}

// parseConfig decodes data on top of the defaults, so that fields absent
// from data keep their default value.
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := l.defaults()
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, ErrConfigParse.Wrap(err).GenWithStackByArgs(format)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, ErrConfigParse.Wrap(err).GenWithStackByArgs(format)
		}
	default:
		return nil, ErrUnsupportedFormat.GenWithStackByArgs(format)
	}
	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	env := func(name string) (string, bool) {
		val, ok := l.lookupEnv(l.envPrefix + "_" + name)
		return val, ok && val != ""
	}

	// App configuration
	if val, ok := env("APP_NAME"); ok {
		config.App.Name = val
	}
	if val, ok := env("APP_ENVIRONMENT"); ok {
		config.App.Environment = Environment(val)
	}
	if val, ok := env("APP_DEBUG"); ok {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val, ok := env("LOG_LEVEL"); ok {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val, ok := env("LOG_FORMAT"); ok {
		config.Log.Format = val
	}
	if val, ok := env("LOG_OUTPUT"); ok {
		config.Log.Output = val
	}

	// Transport configuration
	if val, ok := env("TRANSPORT_LISTEN"); ok {
		config.Transport.Listen = splitList(val)
	}
	if val, ok := env("TRANSPORT_MAX_FRAME_SIZE"); ok {
		size, err := strconv.Atoi(val)
		if err != nil {
			return ErrEnvironmentVar.Wrap(err).GenWithStackByArgs(val, l.envPrefix+"_TRANSPORT_MAX_FRAME_SIZE")
		}
		config.Transport.MaxFrameSize = size
	}
	if val, ok := env("TRANSPORT_DIAL_TIMEOUT"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return ErrEnvironmentVar.Wrap(err).GenWithStackByArgs(val, l.envPrefix+"_TRANSPORT_DIAL_TIMEOUT")
		}
		config.Transport.DialTimeout = d
	}

	// Monitor configuration
	if val, ok := env("MONITOR_ENABLED"); ok {
		config.Monitor.Enabled = strings.ToLower(val) == "true"
	}
	if val, ok := env("MONITOR_ADDRESS"); ok {
		config.Monitor.Address = val
	}
	return nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
