package infra

import (
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a slog.Logger backed by a zap JSON core.
// Call sites keep using slog; zap does the encoding.
func NewLogger(cfg *Config) *slog.Logger {
	level := zapcore.InfoLevel
	if cfg != nil && cfg.Logging.Level != "" {
		if l, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
			level = l
		}
	}
	return slog.New(zapslog.NewHandler(newZapCore(level)))
}

func newZapCore(level zapcore.Level) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level),
	)
}
