package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTempFile creates a file with the given content and extension inside
// the test's temporary directory.
func writeTempFile(t *testing.T, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config"+ext)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file path cannot be empty")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read configuration file")
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeTempFile(t, `
[server]
address = "127.0.0.1:9000"
shutdown_timeout = "5s"

[nested]
buffer_size = 1024
enable_tracing = true

[logging]
log_level = "DEBUG"
format = "console"
`, ".toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", *cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 10*time.Second, cfg.ReadHeaderTimeout())
	assert.Equal(t, 1024, *cfg.Nested.BufferSize)
	assert.Equal(t, DefaultChunkSize, *cfg.Nested.ChunkSize)
	assert.True(t, *cfg.Nested.EnableTracing)
	assert.Equal(t, LogLevelDebug, cfg.Logging.LogLevel)
	assert.Equal(t, LogFormatConsole, cfg.Logging.Format)
	assert.Equal(t, DefaultLogTarget, cfg.Logging.Target)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeTempFile(t, `{
  "nested": {"max_recv_msg_size": 2048},
  "logging": {"log_level": "WARNING", "target": "stdout"}
}`, ".json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, *cfg.Server.Address)
	assert.Equal(t, 2048, *cfg.Nested.MaxRecvMsgSize)
	assert.Equal(t, DefaultMaxSendMsgSize, *cfg.Nested.MaxSendMsgSize)
	assert.False(t, *cfg.Nested.EnableTracing)
	assert.Equal(t, LogLevelWarning, cfg.Logging.LogLevel)
	assert.Equal(t, "stdout", cfg.Logging.Target)
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
}

func TestLoadConfig_AutoDetect(t *testing.T) {
	path := writeTempFile(t, "[logging]\nlog_level = \"ERROR\"\n", ".conf")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, LogLevelError, cfg.Logging.LogLevel)

	path = writeTempFile(t, `not json or toml`, ".data")
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to auto-detect and parse config")
	assert.Contains(t, err.Error(), "JSON error")
	assert.Contains(t, err.Error(), "TOML error")
}

func TestLoadConfig_ParseErrors(t *testing.T) {
	_, err := LoadConfig(writeTempFile(t, `{"server": {"address": ":1",}}`, ".json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse JSON config")

	_, err = LoadConfig(writeTempFile(t, "[server\naddress = 1", ".toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse TOML config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty address", func(c *Config) { c.Server.Address = strPtr("") }, "server.address cannot be empty"},
		{"bad duration", func(c *Config) { c.Server.ReadHeaderTimeout = strPtr("soon") }, "server.read_header_timeout: invalid duration"},
		{"zero shutdown", func(c *Config) { c.Server.ShutdownTimeout = strPtr("0s") }, "server.shutdown_timeout must be positive"},
		{"zero buffer", func(c *Config) { c.Nested.BufferSize = intPtr(0) }, "nested.buffer_size must be positive"},
		{"negative chunk", func(c *Config) { c.Nested.ChunkSize = intPtr(-1) }, "nested.chunk_size must be positive"},
		{"bad level", func(c *Config) { c.Logging.LogLevel = "TRACE" }, "logging.log_level \"TRACE\" is invalid"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format \"xml\" is invalid"},
		{"relative target", func(c *Config) { c.Logging.Target = "logs/app.log" }, "must be 'stdout', 'stderr' or an absolute path"},
		{"absolute target", func(c *Config) { c.Logging.Target = "/var/log/app.log" }, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectError)
		})
	}
}

func TestIsFilePath(t *testing.T) {
	tests := []struct {
		target   string
		expected bool
	}{
		{"stdout", false},
		{"stderr", false},
		{"/var/log/app.log", true},
		{"logs/app.log", true},
		{"", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, IsFilePath(tc.target), tc.target)
	}
}
