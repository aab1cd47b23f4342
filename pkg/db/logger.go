package db

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewLogger returns a gorm logger that writes through logrus. Query tracing is
// only enabled at debug and trace levels.
func NewLogger(level string) logger.Interface {
	l := &gormLogger{
		log:  logrus.WithField("component", "gorm"),
		slow: 200 * time.Millisecond,
	}
	switch level {
	case "trace", "debug":
		l.level = logger.Info
	case "info", "warn":
		l.level = logger.Warn
	default:
		l.level = logger.Error
	}
	return l
}

type gormLogger struct {
	log   *logrus.Entry
	level logger.LogLevel
	slow  time.Duration
}

func (g *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	c := *g
	c.level = level
	return &c
}

func (g *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Info {
		g.log.Infof(msg, args...)
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Warn {
		g.log.Warnf(msg, args...)
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Error {
		g.log.Errorf(msg, args...)
	}
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= logger.Error:
		sql, rows := fc()
		g.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows}).WithError(err).Error(sql)
	case elapsed > g.slow && g.level >= logger.Warn:
		sql, rows := fc()
		g.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows}).Warn("slow query: " + sql)
	case g.level >= logger.Info:
		sql, rows := fc()
		g.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows}).Debug(sql)
	}
}
