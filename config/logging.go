package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build constructs a zap logger from the logging configuration.
func (lc LogConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(defaultString(lc.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}

	encoding := defaultString(lc.Format, "json")
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputs := lc.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !lc.EnableCaller,
		DisableStacktrace: !lc.EnableStacktrace,
	}
	return zapCfg.Build()
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
