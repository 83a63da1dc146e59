// Package logging defines the logging contract used across the pipeline and
// a zap-backed implementation for the binaries.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the minimal structured logging interface every stage accepts.
// Arguments after the message are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Default for tests and library use.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// ZapLogger adapts a zap.SugaredLogger to the Logger interface.
type ZapLogger struct {
	s *zap.SugaredLogger
}

func NewZapLogger(s *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{s: s}
}

func (z *ZapLogger) Debug(msg string, args ...interface{}) { z.s.Debugw(msg, args...) }
func (z *ZapLogger) Info(msg string, args ...interface{})  { z.s.Infow(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...interface{})  { z.s.Warnw(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...interface{}) { z.s.Errorw(msg, args...) }

// NewDevelopment returns a console logger at debug level.
func NewDevelopment() *ZapLogger {
	l, _ := zap.NewDevelopment()
	return NewZapLogger(l.Sugar())
}

// NewProduction returns a JSON logger writing to stderr and, when logFile is
// non-empty, to a size-rotated file as well.
func NewProduction(logFile string, debug bool) *ZapLogger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)}

	if logFile != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MiB
			MaxBackups: 5,
			MaxAge:     14, // days
		})
		cores = append(cores, zapcore.NewCore(enc, rotated, level))
	}

	l := zap.New(zapcore.NewTee(cores...))
	return NewZapLogger(l.Sugar())
}
