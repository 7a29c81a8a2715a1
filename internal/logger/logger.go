// internal/logger/logger.go
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/SinaHo/learning-platform-referrals/internal/config"
)

// NewLogger builds a zap logger; "json" selects the production encoder,
// anything else the human-readable development one.
func NewLogger(levelStr, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl := zapcore.InfoLevel
	if levelStr != "" {
		if err := lvl.UnmarshalText([]byte(levelStr)); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build(zap.AddCaller())
}

// FromConfig is NewLogger driven by the logging section of the app config.
func FromConfig(c config.LoggingConfig) (*zap.Logger, error) {
	return NewLogger(c.Level, c.Format)
}
