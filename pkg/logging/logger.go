package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
)

// LogLevel represents logging verbosity
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
	// LevelNone discards all output. Components receive logr.Discard(),
	// which skips even argument evaluation for disabled records.
	LevelNone LogLevel = "NONE"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds logger configuration
type Config struct {
	Level      LogLevel `yaml:"level"`
	OutputPath string   `yaml:"output_path"` // Empty for stdout, or file path
	Format     string   `yaml:"format"`      // "json" or "text"
}

// Logger bundles a configured logr.Logger with the file handle backing it,
// so callers can close the output file on shutdown.
type Logger struct {
	logr.Logger
	file *os.File
}

// New builds a logr.Logger from the given configuration, backed by a
// log/slog handler. With LevelNone the returned logger discards everything
// and no output file is opened.
func New(config Config) (*Logger, error) {
	if config.Level == LevelNone {
		return &Logger{Logger: logr.Discard()}, nil
	}

	var writer io.Writer = os.Stdout
	var file *os.File

	if config.OutputPath != "" {
		logDir := filepath.Dir(config.OutputPath)
		if err := os.MkdirAll(logDir, 0o750); err != nil {
			return nil, err
		}

		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		writer = f
		file = f
	}

	level, err := slogLevel(config.Level)
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, err
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return &Logger{Logger: logr.FromSlogHandler(handler), file: file}, nil
}

// Discard returns a logger that drops every record. Useful as the default
// for components whose callers did not supply one.
func Discard() logr.Logger {
	return logr.Discard()
}

// Close closes the log output file, if any. Safe to call multiple times.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func slogLevel(level LogLevel) (slog.Level, error) {
	switch level {
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelInfo, "":
		return slog.LevelInfo, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
