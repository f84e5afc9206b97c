package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/seenimoa/dispersion/internal/config"
	"github.com/seenimoa/dispersion/pkg/models"
)

func TestNewJSONLogger(t *testing.T) {
	logger, sync, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer sync()
	if logger == nil {
		t.Fatal("New() returned nil logger")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be enabled at level info")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be disabled at level info")
	}
}

func TestNewTextLoggerDebug(t *testing.T) {
	logger, sync, err := New(config.LoggingConfig{Level: "debug", Format: "text"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer sync()
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled at level debug")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "trace", Format: "text"})
	if err == nil {
		t.Fatal("New() should reject unknown level")
	}
	if !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("error should wrap ErrInvalidConfiguration, got %v", err)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "info", Format: "xml"})
	if err == nil {
		t.Fatal("New() should reject unknown format")
	}
	if !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("error should wrap ErrInvalidConfiguration, got %v", err)
	}
}
