package logger

import (
	"strings"

	"cifuzz/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide zap logger from the configured level.
// Debug level selects the development encoder, everything else the
// production one.
func NewLogger(appConfig *config.AppConfig) *zap.Logger {
	level := zapcore.InfoLevel
	switch strings.ToLower(appConfig.LogLevel) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	var cfg zap.Config
	if level == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	lg, err := cfg.Build(zap.AddCaller())
	if err != nil {
		// log failed to build, return a default one
		return zap.NewExample()
	}
	return lg
}
