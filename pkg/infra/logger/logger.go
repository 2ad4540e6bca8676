package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	logDir         = "logs"
	fileBufferSize = 32 * 1024
	queueSize      = 1000
)

var validName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// NewLogger builds the JSON logger used across the service. Entries go to
// logs/<name>.log and to stdout, both asynchronously. LOG_LEVEL sets the
// logger level and CONSOLE_LOG_LEVEL can make the console stricter. The
// returned closer flushes both sinks.
func NewLogger(name string) (*logrus.Logger, io.Closer, error) {
	if !validName.MatchString(name) {
		return nil, nil, fmt.Errorf("invalid logger name %q", name)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})
	level := levelFromEnv("LOG_LEVEL", logrus.InfoLevel)
	logger.SetLevel(level)

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	fileWriter, err := NewAsyncFileWriter(filepath.Join(logDir, name+".log"), fileBufferSize, queueSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize async log writer: %w", err)
	}
	logger.SetOutput(fileWriter)

	consoleHook := NewAsyncConsoleHook(os.Stdout, levelFromEnv("CONSOLE_LOG_LEVEL", level), queueSize)
	logger.AddHook(consoleHook)

	return logger, closers{consoleHook, fileWriter}, nil
}

func levelFromEnv(key string, fallback logrus.Level) logrus.Level {
	level, err := logrus.ParseLevel(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return level
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, closer := range c {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
