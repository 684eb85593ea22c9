// Package logger holds the process-wide zap logger.
//
// The logger is a singleton so that the level can be changed at runtime
// (for example from a debug endpoint) without rebuilding every component.
// Components take a named child:
//
//	log := logger.GetLogger().Named("registry")
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once        sync.Once
	zapLogLevel zap.AtomicLevel
	zapLogger   *zap.SugaredLogger
)

// GetLogger returns the singleton logger, building it on first use.
// MESH_LOG_FORMAT=json switches from the console encoder to JSON;
// MESH_LOG_LEVEL sets the initial level (default info).
func GetLogger() *zap.SugaredLogger {
	once.Do(func() {
		zapLogLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if lvl, err := zapcore.ParseLevel(os.Getenv("MESH_LOG_LEVEL")); err == nil && os.Getenv("MESH_LOG_LEVEL") != "" {
			zapLogLevel.SetLevel(lvl)
		}

		zapConfig := zap.NewDevelopmentConfig()
		zapConfig.DisableStacktrace = true
		zapConfig.Encoding = "console"
		if os.Getenv("MESH_LOG_FORMAT") == "json" {
			zapConfig = zap.NewProductionConfig()
		}
		zapConfig.Level = zapLogLevel

		zlog, err := zapConfig.Build()
		if err != nil {
			panic(err)
		}
		zapLogger = zlog.Sugar()
	})
	return zapLogger
}

// SetLogLevel changes the level of every logger derived from GetLogger.
func SetLogLevel(level string) {
	log := GetLogger()
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		log.Errorf("failed to parse log level: %v", err)
		return
	}
	zapLogLevel.SetLevel(zapLevel)
}

// GetLoggerLevel returns the current level name.
func GetLoggerLevel() string {
	GetLogger()
	return zapLogLevel.String()
}

// SyncLogger flushes buffered entries. Call before the process exits.
func SyncLogger() {
	if zapLogger != nil {
		_ = zapLogger.Sync()
	}
}
