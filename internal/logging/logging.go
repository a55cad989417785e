package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brandon/mailmirror/internal/config"
)

// New builds the process logger. Output always goes to console; when a log file
// is configured it is also written there with size-based rotation.
func New(level string, fileCfg config.LogConfig, console io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	out := console
	if fileCfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(fileCfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		out = io.MultiWriter(console, &lumberjack.Logger{
			Filename:   fileCfg.File,
			MaxSize:    fileCfg.MaxSizeMB,
			MaxBackups: fileCfg.MaxBackups,
			MaxAge:     fileCfg.MaxAgeDays,
			Compress:   true,
		})
	}
	logger.SetOutput(out)

	return logger, nil
}

// Discard returns a logger that drops everything, for tests
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
