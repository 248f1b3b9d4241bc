package config

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

// PgxZapLogger bridges pgx trace logging to zap.
type PgxZapLogger struct {
	logger *zap.Logger
	level  tracelog.LogLevel
}

// NewPgxZapLogger returns an adapter that drops records more verbose than level.
func NewPgxZapLogger(logger *zap.Logger, level string) *PgxZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgxZapLogger{
		logger: logger.Named("pgx"),
		level:  parsePgxLogLevel(level),
	}
}

// Log implements tracelog.Logger.
func (l *PgxZapLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	// pgx levels grow with verbosity: trace is 6, none is 1.
	if level > l.level || l.level == tracelog.LogLevelNone {
		return
	}

	fields := make([]zap.Field, 0, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case int:
			fields = append(fields, zap.Int(key, v))
		case int64:
			fields = append(fields, zap.Int64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		case error:
			fields = append(fields, zap.NamedError(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		l.logger.Debug(msg, fields...)
	case tracelog.LogLevelInfo:
		l.logger.Info(msg, fields...)
	case tracelog.LogLevelWarn:
		l.logger.Warn(msg, fields...)
	case tracelog.LogLevelError:
		l.logger.Error(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
}

func parsePgxLogLevel(level string) tracelog.LogLevel {
	lvl, err := tracelog.LogLevelFromString(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return tracelog.LogLevelWarn
	}
	return lvl
}

// GetLogLevel returns the threshold.
func (l *PgxZapLogger) GetLogLevel() tracelog.LogLevel {
	return l.level
}
