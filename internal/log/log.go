// Package log provides the process-wide zap logger.
package log

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

var sugared atomic.Pointer[zap.SugaredLogger]

func init() {
	sugared.Store(zap.NewNop().Sugar())
}

// Init replaces the no-op logger installed at startup.
func Init(debug bool) error {
	var zapLogger *zap.Logger
	var err error

	if debug {
		zapLogger, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		zapLogger, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}

	sugared.Store(zapLogger.Sugar())
	return nil
}

// Use installs an already built logger (tests use zaptest/observer loggers).
func Use(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	sugared.Store(l.WithOptions(zap.AddCallerSkip(1)).Sugar())
}

// Sugared returns the current logger.
func Sugared() *zap.SugaredLogger {
	return sugared.Load()
}

// Sync flushes any buffered log entries
func Sync() {
	_ = sugared.Load().Sync()
}

func Debugw(msg string, keysAndValues ...interface{}) {
	sugared.Load().Debugw(msg, keysAndValues...)
}

func Debugf(template string, args ...interface{}) {
	sugared.Load().Debugf(template, args...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	sugared.Load().Infow(msg, keysAndValues...)
}

func Infof(template string, args ...interface{}) {
	sugared.Load().Infof(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	sugared.Load().Warnw(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	sugared.Load().Warnf(template, args...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	sugared.Load().Errorw(msg, keysAndValues...)
}

func Errorf(template string, args ...interface{}) {
	sugared.Load().Errorf(template, args...)
}

func Fatalf(template string, args ...interface{}) {
	sugared.Load().Fatalf(template, args...)
	os.Exit(1)
}
