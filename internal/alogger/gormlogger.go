package alogger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taxpoynt/certmgr/internal/common"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// GormLogger implements the gorm.io/gorm/logger.Interface on top of
// the shared common.Logger.
type GormLogger struct {
	LogLevel                  gormlogger.LogLevel
	SlowThreshold             time.Duration
	IgnoreRecordNotFoundError bool
	Logger                    common.Logger
}

// NewGormLogger creates a new GormLogger using the provided common.Logger.
func NewGormLogger(logger common.Logger) *GormLogger {
	return &GormLogger{
		LogLevel:                  gormlogger.Warn,
		SlowThreshold:             time.Second,
		IgnoreRecordNotFoundError: true,
		Logger:                    logger,
	}
}

// LogMode sets the log level and returns a new logger instance.
func (gl *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *gl
	newLogger.LogLevel = level
	return &newLogger
}

// Info logs info messages.
func (gl *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if gl.LogLevel < gormlogger.Info {
		return
	}
	gl.Logger.Infof(msg, args...)
}

// Warn logs warning messages.
func (gl *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if gl.LogLevel < gormlogger.Warn {
		return
	}
	gl.Logger.Warnf(msg, args...)
}

// Error logs error messages.
func (gl *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if gl.LogLevel < gormlogger.Error {
		return
	}
	gl.Logger.Errorf(msg, args...)
}

// Trace logs database operations.
func (gl *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if gl.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && gl.LogLevel >= gormlogger.Error &&
		(!errors.Is(err, gorm.ErrRecordNotFound) || !gl.IgnoreRecordNotFoundError):
		gl.Logger.Errorw("database query failed",
			"error", err,
			"elapsed", elapsed.String(),
			"rows", rows,
			"sql", sql,
			"location", utils.FileWithLineNum(),
		)

	case gl.SlowThreshold != 0 && elapsed > gl.SlowThreshold && gl.LogLevel >= gormlogger.Warn:
		gl.Logger.Warnw(fmt.Sprintf("slow query (>= %v)", gl.SlowThreshold),
			"elapsed", elapsed.String(),
			"rows", rows,
			"sql", sql,
		)

	case gl.LogLevel == gormlogger.Info:
		gl.Logger.Debugw("database query",
			"elapsed", elapsed.String(),
			"rows", rows,
			"sql", sql,
		)
	}
}
