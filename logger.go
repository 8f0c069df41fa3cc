package digo

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a JSON logger writing every level to stdout.
func NewLogger(withFields ...zap.Field) *zap.Logger {
	return NewLoggerTo(os.Stdout, zapcore.DebugLevel, withFields...)
}

// NewLoggerTo returns a JSON logger writing entries at or above level to w.
func NewLoggerTo(w io.Writer, level zapcore.Level, withFields ...zap.Field) *zap.Logger {
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.EpochTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	})
	core := zapcore.NewCore(jsonEncoder, zapcore.AddSync(w), level)
	return zap.New(core).With(withFields...)
}
