package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/blessli/pianonest/internal/config"
)

var levels = map[config.LogLevel]zerolog.Level{
	config.LogLevelDebug:   zerolog.DebugLevel,
	config.LogLevelInfo:    zerolog.InfoLevel,
	config.LogLevelWarning: zerolog.WarnLevel,
	config.LogLevelError:   zerolog.ErrorLevel,
}

// Logger is the process-wide structured logger. Components receive the
// embedded zerolog.Logger, usually narrowed with a "component" field.
type Logger struct {
	zerolog.Logger
	out io.WriteCloser
}

// NewLogger creates a logger writing to the configured target.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}
	level, ok := levels[cfg.LogLevel]
	if !ok {
		if cfg.LogLevel != "" {
			return nil, fmt.Errorf("invalid log level: %s", cfg.LogLevel)
		}
		level = zerolog.InfoLevel
	}

	var out io.WriteCloser
	switch cfg.Target {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Target, err)
		}
		out = file
	}

	var w io.Writer = out
	if cfg.Format == config.LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stderr && out != os.Stdout}
	}

	return &Logger{
		Logger: zerolog.New(w).Level(level).With().Timestamp().Logger(),
		out:    out,
	}, nil
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close closes the target if it is a file. Standard streams are left open.
func (l *Logger) Close() error {
	if l.out == nil || l.out == os.Stdout || l.out == os.Stderr {
		return nil
	}
	return l.out.Close()
}
