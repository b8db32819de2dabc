// Package logging builds the structured loggers used across sigrt.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config selects the level and format of a logger.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New returns a logger configured from cfg. Format is "text" or "json".
func New(cfg Config) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	}

	level := logrus.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		return nil, fmt.Errorf("log format %q: expected text or json", cfg.Format)
	}
	return logger, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Fork returns a logger sharing base's output, formatter and hooks but with
// a level of its own.
func Fork(base *logrus.Logger) *logrus.Logger {
	if base == nil {
		return Discard()
	}
	return &logrus.Logger{
		Out:          base.Out,
		Hooks:        base.Hooks,
		Formatter:    base.Formatter,
		ReportCaller: base.ReportCaller,
		Level:        base.GetLevel(),
		ExitFunc:     base.ExitFunc,
	}
}

// ToggleDebug flips logger between Debug and base, returning the new level.
func ToggleDebug(logger *logrus.Logger, base logrus.Level) logrus.Level {
	next := logrus.DebugLevel
	if logger.GetLevel() >= logrus.DebugLevel && base < logrus.DebugLevel {
		next = base
	}
	logger.SetLevel(next)
	return next
}
