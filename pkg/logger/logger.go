// Package logger provides the structured logger shared by every service.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig mirrors the logging section of the service configuration.
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	FilePrefix string
}

// Logger wraps logrus and tags every entry with the owning component.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Unknown levels fall back to info and
// an unwritable log file falls back to stdout.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	out, err := openOutput(cfg)
	if err != nil {
		base.SetOutput(os.Stdout)
		base.WithError(err).Warn("falling back to stdout logging")
	} else {
		base.SetOutput(out)
	}

	return &Logger{Logger: base}
}

// NewDefault returns a JSON info-level logger writing to stdout for the named
// component.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	l.component = component
	return l
}

// Named returns a logger sharing the same sink but tagged with a different
// component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// Component returns the component tag.
func (l *Logger) Component() string { return l.component }

func (l *Logger) entry() *logrus.Entry {
	if l.component == "" {
		return logrus.NewEntry(l.Logger)
	}
	return l.Logger.WithField("component", l.component)
}

// WithField returns an entry carrying the component tag and the given field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry().WithField(key, value)
}

// WithFields returns an entry carrying the component tag and the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry().WithFields(logrus.Fields(fields))
}

// WithError returns an entry carrying the component tag and the error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry().WithError(err)
}

func openOutput(cfg LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		prefix := strings.TrimSpace(cfg.FilePrefix)
		if prefix == "" {
			prefix = "supplychain"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		if dir := filepath.Dir(name); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	default:
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}
}
