// Package logging provides the coordinator's logging seam. The shape
// mirrors the Info/Error/Debug(ctx, msg, kvpairs...) surface the teacher
// consumed from its sibling es.Logger, which is not a fetchable
// third-party module and is therefore not reused directly — this is a
// fresh local interface, backed by go.uber.org/zap the way xcherryio's
// config/logger.go builds a zap.Logger from a tagged config struct.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface every coordinator component logs through.
// kvpairs are alternating key/value pairs, flattened into structured
// fields, matching the shape used throughout the teacher's own call sites.
type Logger interface {
	Debug(ctx context.Context, msg string, kvpairs ...interface{})
	Info(ctx context.Context, msg string, kvpairs ...interface{})
	Error(ctx context.Context, msg string, kvpairs ...interface{})
}

// Config configures the default zap-backed Logger.
type Config struct {
	// Level is one of debug, info, warn, error (default: info).
	Level string `yaml:"level"`
	// Encoding is "json" or "console" (default: json).
	Encoding string `yaml:"encoding"`
	// OutputPaths lists zap sink targets (default: ["stdout"]).
	OutputPaths []string `yaml:"outputPaths"`
}

// zapLogger adapts a *zap.Logger to Logger.
type zapLogger struct {
	z *zap.Logger
}

// New builds a Logger from Config.
func New(cfg Config) (Logger, error) {
	level := parseLevel(cfg.Level)
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    zap.NewProductionEncoderConfig(),
	}
	z, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z}, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) fields(kvpairs []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kvpairs)/2)
	for i := 0; i+1 < len(kvpairs); i += 2 {
		key, ok := kvpairs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, kvpairs[i+1]))
	}
	return fields
}

func (l *zapLogger) Debug(_ context.Context, msg string, kvpairs ...interface{}) {
	l.z.Debug(msg, l.fields(kvpairs)...)
}

func (l *zapLogger) Info(_ context.Context, msg string, kvpairs ...interface{}) {
	l.z.Info(msg, l.fields(kvpairs)...)
}

func (l *zapLogger) Error(_ context.Context, msg string, kvpairs ...interface{}) {
	l.z.Error(msg, l.fields(kvpairs)...)
}

// NopLogger discards everything. Useful as a zero-value-safe default so
// components never need a nil check before logging.
type NopLogger struct{}

func (NopLogger) Debug(context.Context, string, ...interface{}) {}
func (NopLogger) Info(context.Context, string, ...interface{})  {}
func (NopLogger) Error(context.Context, string, ...interface{}) {}
