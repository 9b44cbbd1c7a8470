package fortune

import (
	"fmt"
	"log/slog"

	"github.com/sirupsen/logrus"
)

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// Applications can provide their own implementation, use the default slog
// logger, or wrap logrus with NewLogrusLogger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// logrusLogger adapts a logrus.FieldLogger to Logger.
type logrusLogger struct {
	l logrus.FieldLogger
}

// NewLogrusLogger returns a Logger that writes through l.
// Key-value pairs become logrus fields.
func NewLogrusLogger(l logrus.FieldLogger) Logger {
	return &logrusLogger{l: l}
}

func (l *logrusLogger) Debug(msg string, args ...any) { l.with(args).Debug(msg) }
func (l *logrusLogger) Info(msg string, args ...any)  { l.with(args).Info(msg) }
func (l *logrusLogger) Warn(msg string, args ...any)  { l.with(args).Warn(msg) }
func (l *logrusLogger) Error(msg string, args ...any) { l.with(args).Error(msg) }

func (l *logrusLogger) with(args []any) logrus.FieldLogger {
	if len(args) == 0 {
		return l.l
	}
	return l.l.WithFields(argsToFields(args))
}

// argsToFields pairs up slog-style arguments. A trailing key without a value
// is kept under "!BADKEY", as slog does.
func argsToFields(args []any) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields[key] = args[i+1]
	}
	return fields
}
