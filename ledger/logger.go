// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// queryLogger routes gorm messages to zerolog.
type queryLogger struct {
	zerolog.Logger
}

var _ gormlogger.Interface = queryLogger{}

func newQueryLogger(parent zerolog.Logger) queryLogger {
	return queryLogger{Logger: parent.With().Str("component", "ledger").Logger()}
}

func (l queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	var lvl zerolog.Level
	switch {
	case level <= gormlogger.Silent:
		lvl = zerolog.Disabled
	case level == gormlogger.Error:
		lvl = zerolog.ErrorLevel
	case level == gormlogger.Warn:
		lvl = zerolog.WarnLevel
	case level == gormlogger.Info:
		lvl = zerolog.InfoLevel
	default:
		lvl = zerolog.TraceLevel
	}
	return queryLogger{Logger: l.Logger.Level(lvl)}
}

func (l queryLogger) Info(_ context.Context, msg string, data ...interface{}) {
	l.Logger.Info().Msgf(msg, data...)
}

func (l queryLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	l.Logger.Warn().Msgf(msg, data...)
}

func (l queryLogger) Error(_ context.Context, msg string, data ...interface{}) {
	l.Logger.Error().Msgf(msg, data...)
}

// Trace logs failed statements as errors and every statement at trace level.
func (l queryLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if err != nil && l.GetLevel() <= zerolog.ErrorLevel {
		sql, rows := fc()
		l.Err(err).Str("sql", sql).Int64("rows", rows).Dur("elapsed", time.Since(begin)).Msg("ledger statement failed")
		return
	}
	if l.GetLevel() <= zerolog.TraceLevel {
		sql, rows := fc()
		l.Logger.Trace().Str("sql", sql).Int64("rows", rows).Dur("elapsed", time.Since(begin)).Msg("ledger statement")
	}
}
