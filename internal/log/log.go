// Package log provides the process-wide zap logger used by every other package.
package log

import (
	"fmt"
	stdlog "log"
	"os"

	"go.uber.org/zap"
)

var sugar *zap.SugaredLogger
var base *zap.Logger

// Init initializes the package-level logger. Development mode switches to the
// human readable console encoder and enables debug output.
func Init(debug bool) error {
	var zl *zap.Logger
	var err error

	if debug {
		zl, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		zl, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %v", err)
	}

	base = zl
	sugar = zl.Sugar()
	return nil
}

// Zap returns the base zap logger, falling back to a production logger if
// Init was never called.
func Zap() *zap.Logger {
	if base == nil {
		base, _ = zap.NewProduction(zap.AddCallerSkip(1))
		sugar = base.Sugar()
	}
	return base
}

// StdLogger adapts the zap logger to a *log.Logger for libraries (gorm,
// gocron) that only accept the standard library interface.
func StdLogger() *stdlog.Logger {
	return zap.NewStdLog(Zap().WithOptions(zap.AddCallerSkip(-1)))
}

// Sync flushes any buffered log entries.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}

func l() *zap.SugaredLogger {
	if sugar == nil {
		Zap()
	}
	return sugar
}

func Debug(args ...interface{}) {
	l().Debug(args...)
}

func Debugf(template string, args ...interface{}) {
	l().Debugf(template, args...)
}

func Debugw(msg string, keysAndValues ...interface{}) {
	l().Debugw(msg, keysAndValues...)
}

func Info(args ...interface{}) {
	l().Info(args...)
}

func Infof(template string, args ...interface{}) {
	l().Infof(template, args...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	l().Infow(msg, keysAndValues...)
}

func Warn(args ...interface{}) {
	l().Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	l().Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	l().Warnw(msg, keysAndValues...)
}

func Error(args ...interface{}) {
	l().Error(args...)
}

func Errorf(template string, args ...interface{}) {
	l().Errorf(template, args...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	l().Errorw(msg, keysAndValues...)
}

func Fatalf(template string, args ...interface{}) {
	l().Fatalf(template, args...)
	os.Exit(1)
}
