package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger zap 封装，提供 printf 风格的简单接口
type Logger struct {
	zapLogger *zap.Logger
}

var defaultLogger *Logger

func init() {
	var err error
	defaultLogger, err = New()
	if err != nil {
		panic(fmt.Sprintf("初始化日志器失败: %v", err))
	}
}

// New 创建新的日志器
func New() (*Logger, error) {
	config := zap.NewProductionConfig()

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05"))
	}
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.EncoderConfig.MessageKey = "message"

	zapLogger, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}

	return &Logger{zapLogger: zapLogger}, nil
}

func (l *Logger) logf(level zapcore.Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case zapcore.DebugLevel:
		l.zapLogger.Debug(msg)
	case zapcore.InfoLevel:
		l.zapLogger.Info(msg)
	case zapcore.WarnLevel:
		l.zapLogger.Warn(msg)
	case zapcore.ErrorLevel:
		l.zapLogger.Error(msg)
	case zapcore.FatalLevel:
		l.zapLogger.Fatal(msg)
	}
}

func Debug(format string, args ...interface{}) {
	defaultLogger.logf(zapcore.DebugLevel, format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.logf(zapcore.InfoLevel, format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.logf(zapcore.WarnLevel, format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.logf(zapcore.ErrorLevel, format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.logf(zapcore.FatalLevel, format, args...)
}

// Sync 刷新缓冲的日志
func Sync() {
	_ = defaultLogger.zapLogger.Sync()
}
