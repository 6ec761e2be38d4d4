package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var InfoLogger, FatalLogger *zap.Logger

var (
	serviceName = "default"
	nop         = zap.NewNop()
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

// Init собирает production-логгеры с заданным уровнем ("debug", "info", ...).
func Init(level string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return err
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	InfoLogger = l
	FatalLogger = l
	return nil
}

// Sync сбрасывает буферы логгера перед выходом.
func Sync() {
	if InfoLogger != nil {
		_ = InfoLogger.Sync()
	}
}

func get(l *zap.Logger) *zap.Logger {
	if l == nil {
		// тесты и утилиты работают без Init
		return nop
	}
	return l.With(zap.String("service", serviceName))
}

func Debug(format string, args ...interface{}) {
	get(InfoLogger).Debug(fmt.Sprintf(format, args...))
}

func Info(format string, args ...interface{}) {
	get(InfoLogger).Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	get(InfoLogger).Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	get(InfoLogger).Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	if FatalLogger == nil {
		panic(fmt.Sprintf(format, args...))
	}

	FatalLogger.With(
		zap.String("service", serviceName),
	).Fatal(fmt.Sprintf(format, args...))
}
