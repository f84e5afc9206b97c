// Package logging builds the zap logger shared by the engine, risk manager
// and API server. Loggers are constructed once at startup and passed down
// explicitly; there is no package-level global.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seenimoa/dispersion/internal/config"
	"github.com/seenimoa/dispersion/pkg/models"
)

// New builds a logger from the logging section of the config.
// Format "json" uses the production encoder; "text" uses the development
// console encoder. The returned sync func should be deferred by main.
func New(cfg config.LoggingConfig) (*zap.Logger, func() error, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "text", "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, nil, fmt.Errorf("%w: logging format %q", models.ErrInvalidConfiguration, cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, logger.Sync, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return 0, fmt.Errorf("%w: logging level %q", models.ErrInvalidConfiguration, s)
}
