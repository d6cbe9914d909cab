package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel defines the minimum severity for emitted log events.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// LogFormat selects the zerolog writer.
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

const (
	DefaultAddress           = ":8080"
	DefaultReadHeaderTimeout = "10s"
	DefaultShutdownTimeout   = "30s"
	DefaultBufferSize        = 8192
	DefaultChunkSize         = 8192
	DefaultMaxRecvMsgSize    = 4 << 20
	DefaultMaxSendMsgSize    = 4 << 20
	DefaultLogTarget         = "stderr"
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server  *ServerConfig  `json:"server,omitempty" toml:"server,omitempty"`
	Nested  *NestedConfig  `json:"nested,omitempty" toml:"nested,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty"`
}

// ServerConfig holds the outer HTTP server settings.
type ServerConfig struct {
	Address           *string `json:"address,omitempty" toml:"address,omitempty"`
	ReadHeaderTimeout *string `json:"read_header_timeout,omitempty" toml:"read_header_timeout,omitempty"` // e.g., "10s"
	ShutdownTimeout   *string `json:"shutdown_timeout,omitempty" toml:"shutdown_timeout,omitempty"`       // e.g., "30s"
}

// NestedConfig tunes the in-memory bridge and the embedded RPC engine.
type NestedConfig struct {
	BufferSize     *int  `json:"buffer_size,omitempty" toml:"buffer_size,omitempty"`
	ChunkSize      *int  `json:"chunk_size,omitempty" toml:"chunk_size,omitempty"`
	MaxRecvMsgSize *int  `json:"max_recv_msg_size,omitempty" toml:"max_recv_msg_size,omitempty"`
	MaxSendMsgSize *int  `json:"max_send_msg_size,omitempty" toml:"max_send_msg_size,omitempty"`
	EnableTracing  *bool `json:"enable_tracing,omitempty" toml:"enable_tracing,omitempty"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	LogLevel LogLevel  `json:"log_level,omitempty" toml:"log_level,omitempty"`
	Target   string    `json:"target,omitempty" toml:"target,omitempty"` // "stdout", "stderr" or an absolute file path
	Format   LogFormat `json:"format,omitempty" toml:"format,omitempty"`
}

// LoadConfig reads the file at path, decodes it as JSON or TOML, applies
// defaults and validates the result. The format follows the file extension;
// unknown extensions try JSON first, then TOML.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("configuration file path cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	cfg, err := parse(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %q: %w", path, err)
	}
	return cfg, nil
}

func parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		jsonErr := json.Unmarshal(data, cfg)
		if jsonErr == nil {
			return cfg, nil
		}
		cfg = &Config{}
		if _, tomlErr := toml.Decode(string(data), cfg); tomlErr != nil {
			return nil, fmt.Errorf("failed to auto-detect and parse config: JSON error: %v, TOML error: %v", jsonErr, tomlErr)
		}
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Address == nil {
		c.Server.Address = strPtr(DefaultAddress)
	}
	if c.Server.ReadHeaderTimeout == nil {
		c.Server.ReadHeaderTimeout = strPtr(DefaultReadHeaderTimeout)
	}
	if c.Server.ShutdownTimeout == nil {
		c.Server.ShutdownTimeout = strPtr(DefaultShutdownTimeout)
	}

	if c.Nested == nil {
		c.Nested = &NestedConfig{}
	}
	if c.Nested.BufferSize == nil {
		c.Nested.BufferSize = intPtr(DefaultBufferSize)
	}
	if c.Nested.ChunkSize == nil {
		c.Nested.ChunkSize = intPtr(DefaultChunkSize)
	}
	if c.Nested.MaxRecvMsgSize == nil {
		c.Nested.MaxRecvMsgSize = intPtr(DefaultMaxRecvMsgSize)
	}
	if c.Nested.MaxSendMsgSize == nil {
		c.Nested.MaxSendMsgSize = intPtr(DefaultMaxSendMsgSize)
	}
	if c.Nested.EnableTracing == nil {
		f := false
		c.Nested.EnableTracing = &f
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = LogLevelInfo
	}
	if c.Logging.Target == "" {
		c.Logging.Target = DefaultLogTarget
	}
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatJSON
	}
}

// Validate checks a configuration that already had its defaults applied.
func (c *Config) Validate() error {
	if c.Server == nil || c.Nested == nil || c.Logging == nil {
		return errors.New("configuration sections must not be nil after defaults")
	}
	if *c.Server.Address == "" {
		return errors.New("server.address cannot be empty")
	}
	if _, err := parsePositiveDuration("server.read_header_timeout", *c.Server.ReadHeaderTimeout); err != nil {
		return err
	}
	if _, err := parsePositiveDuration("server.shutdown_timeout", *c.Server.ShutdownTimeout); err != nil {
		return err
	}

	for name, v := range map[string]int{
		"nested.buffer_size":       *c.Nested.BufferSize,
		"nested.chunk_size":        *c.Nested.ChunkSize,
		"nested.max_recv_msg_size": *c.Nested.MaxRecvMsgSize,
		"nested.max_send_msg_size": *c.Nested.MaxSendMsgSize,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	switch c.Logging.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return fmt.Errorf("logging.log_level %q is invalid; must be one of DEBUG, INFO, WARNING, ERROR", c.Logging.LogLevel)
	}
	switch c.Logging.Format {
	case LogFormatJSON, LogFormatConsole:
	default:
		return fmt.Errorf("logging.format %q is invalid; must be json or console", c.Logging.Format)
	}
	if IsFilePath(c.Logging.Target) && !filepath.IsAbs(c.Logging.Target) {
		return fmt.Errorf("logging.target %q must be 'stdout', 'stderr' or an absolute path", c.Logging.Target)
	}
	return nil
}

// ReadHeaderTimeout returns the parsed server.read_header_timeout.
func (c *Config) ReadHeaderTimeout() time.Duration {
	d, _ := time.ParseDuration(*c.Server.ReadHeaderTimeout)
	return d
}

// ShutdownTimeout returns the parsed server.shutdown_timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	d, _ := time.ParseDuration(*c.Server.ShutdownTimeout)
	return d
}

// IsFilePath reports whether a log target names a file rather than a
// standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}

func parsePositiveDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", field, s)
	}
	return d, nil
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
