// Package logger wraps logrus with the configuration conventions used across
// the service: a named component field, text or JSON output and optional
// rotated log files.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr or file
	FilePrefix string // log file path without extension when Output is file
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is a component-scoped logrus entry.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()
	base.SetLevel(parseLevel(cfg.Level))

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetOutput(outputFor(cfg))
	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(name string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	return l.Named(name)
}

// Named returns a child logger with the component field set.
func (l *Logger) Named(name string) *Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &Logger{Entry: l.Entry.WithField("component", name)}
}

// With returns a child logger carrying the given fields on every line.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// SetOutput redirects the underlying logger, mostly useful in tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.Entry.Logger.SetOutput(w)
}

func parseLevel(raw string) logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func outputFor(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr
	case "file":
		prefix := strings.TrimSpace(cfg.FilePrefix)
		if prefix == "" {
			prefix = "raffled"
		}
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		return &lumberjack.Logger{
			Filename:   prefix + ".log",
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	default:
		return os.Stdout
	}
}
