package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger: JSON in production, a console encoder when
// debug is set. color only affects the console encoder.
func New(debug, color bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		if color {
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Session returns a child logger carrying the session id.
func Session(l *zap.Logger, id string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.With(zap.String("session", id))
}
