// Copyright 2025 James Ross
package obs

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON-encoded production logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	return cfg.Build()
}

// Convenience typed fields, kept so every component logs through the
// same small vocabulary instead of reaching for zap directly.
func String(k, v string) zap.Field     { return zap.String(k, v) }
func Int(k string, v int) zap.Field    { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field  { return zap.Bool(k, v) }
func Duration(k string, v time.Duration) zap.Field { return zap.Duration(k, v) }
func Err(err error) zap.Field          { return zap.Error(err) }
