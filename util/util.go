package util

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logMu  sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Logger returns the process-wide logger.
//
// Until SetLogger is called, this logger discards everything, which
// keeps tests quiet.
func Logger() *zap.SugaredLogger {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	return l
}

// SetLogger replaces the process-wide logger.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	logMu.Lock()
	logger = l
	logMu.Unlock()
}

// NewLogger makes a production logger at the given level ("debug",
// "info", "warn", "error").
func NewLogger(level string) (*zap.SugaredLogger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	conf := zap.NewProductionConfig()
	conf.Level = lvl
	conf.Encoding = "console"
	conf.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	l, err := conf.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Logf is a silly utility function that logs at debug level via the
// process-wide logger.
func Logf(format string, args ...interface{}) {
	Logger().Debugf(format, args...)
}
