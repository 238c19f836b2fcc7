package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`          // debug, info, warn, error
	Format string `yaml:"format"`         // console, json
	File   string `yaml:"file,omitempty"` // empty means stderr
}

func (l LoggingConfig) validate() error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch l.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("invalid log format: %s (valid: console, json)", l.Format)
	}
}

// Build creates the logger. verbose forces debug level.
func (l LoggingConfig) Build(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = l.Format
	if zcfg.Encoding == "" {
		zcfg.Encoding = "console"
	}
	if zcfg.Encoding == "console" {
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	level := zapcore.InfoLevel
	if l.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(l.Level); err != nil {
			return nil, err
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if l.File != "" {
		zcfg.OutputPaths = []string{l.File}
		zcfg.ErrorOutputPaths = []string{l.File}
	}
	return zcfg.Build()
}
