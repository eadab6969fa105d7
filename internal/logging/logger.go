package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

// Options configures the process logger
type Options struct {
	Level    string
	File     string
	MaxAge   time.Duration
	Rotation time.Duration
}

// New builds a JSON logger that writes to stdout and, when a file is set, to a rotated log file.
// Sensitive fields are masked before any output is produced.
func New(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetLevel(ParseLevel(opts.Level))
	logger.AddHook(NewRedactHook())

	var out io.Writer = os.Stdout
	if opts.File != "" {
		rotated, err := newRotatedFile(opts)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, rotated)
	}
	logger.SetOutput(out)

	return logger, nil
}

func newRotatedFile(opts Options) (*rotatelogs.RotateLogs, error) {
	if dir := filepath.Dir(opts.File); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	rotation := opts.Rotation
	if rotation <= 0 {
		rotation = 24 * time.Hour
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}

	rl, err := rotatelogs.New(
		opts.File+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(opts.File),
		rotatelogs.WithRotationTime(rotation),
		rotatelogs.WithMaxAge(maxAge),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return rl, nil
}

// ParseLevel maps a config string to a logrus level, defaulting to info
func ParseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Discard returns a logger that drops everything, for tests and dry tooling
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
