package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type LogConfig struct {
	Level  string
	Format string
	Output io.Writer
}

// NewLogger builds the process logger. Format "json" selects the JSON
// formatter; anything else uses text with full timestamps.
func NewLogger(cfg LogConfig, service string) (*logrus.Entry, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	}

	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(parsed)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger.WithField("service", service), nil
}
