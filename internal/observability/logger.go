// Package observability constructs the process loggers. Components
// receive their logger explicitly; only the cobra command layer uses the
// package-level CLILogger, which exists so early startup failures have
// somewhere to go before configuration is loaded.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger for command-level wiring and startup errors.
// Replaced by Init once configuration is known.
var CLILogger = zap.Must(zap.NewDevelopment())

// Init builds the process logger for the configured level and installs
// it as the CLILogger.
func Init(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	CLILogger = logger
	return logger, nil
}
