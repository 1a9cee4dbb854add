package sqlstore

import (
	"io"
	"time"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
	gormlogger "gorm.io/gorm/logger"
)

var logger *golog.Logger

// SetLogger overrides the log writer and level for this package.
func SetLogger(w io.Writer, level log.Level) {
	logger = golog.New(w, level)
}

func init() {
	SetLogger(io.Discard, log.Debug)
}

// gormWriter sends gorm's own log lines to the package logger.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(gormWriter{}, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
