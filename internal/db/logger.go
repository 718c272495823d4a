package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// slowQueryThreshold is the elapsed time past which a query is logged at
// warn level even when SQL tracing is off.
const slowQueryThreshold = 200 * time.Millisecond

// gormLogger routes GORM's internal messages (queries, slow-query warnings,
// errors) through the application's zap logger so nothing writes to stdout
// on its own.
//
// gorm.ErrRecordNotFound is never logged: a miss is an application-level
// condition the repositories translate to ErrNotFound, not a database
// fault.
type gormLogger struct {
	log   *zap.Logger
	level gormlogger.LogLevel
}

// newGormLogger wraps log for use as a gormlogger.Interface. A zero level
// means gormlogger.Warn; pass gormlogger.Silent to suppress everything or
// gormlogger.Info to trace every statement.
func newGormLogger(log *zap.Logger, level gormlogger.LogLevel) gormlogger.Interface {
	if level == 0 {
		level = gormlogger.Warn
	}
	return &gormLogger{
		// Skip the gorm callback frames so the caller annotation points at
		// repository code.
		log:   log.Named("gorm").WithOptions(zap.AddCallerSkip(3)),
		level: level,
	}
}

// LogMode implements gormlogger.Interface. GORM calls it to derive a logger
// at a different verbosity, e.g. for db.Debug().
func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

// Trace receives every executed statement with its timing. Errors and slow
// queries surface regardless of level; full statement tracing requires
// gormlogger.Info.
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
		zap.String("caller", utils.FileWithLineNum()),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.log.Error("query failed", append(fields, zap.Error(err))...)
	case elapsed > slowQueryThreshold:
		l.log.Warn("slow query", fields...)
	case l.level >= gormlogger.Info:
		l.log.Debug("query", fields...)
	}
}
