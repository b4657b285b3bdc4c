// Package logger defines the structured-logging capability consumed by
// every component of the portfolio core. Components depend on the Logger
// interface only; pkg/logger/zerolog supplies the production adapter.
package logger

// Level is a logging severity, abstracted away from any specific backend.
type Level int8

const (
	Disabled Level = iota
	NoLevel
	TraceLevel
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	PanicLevel
)

type Logger interface {
	// Returns a logger based off the root logger and decorates it with the given context and arguments.
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
	WithError(err error) Logger

	GetLevel() Level
	SetLevel(level Level)

	// Default log functions
	Trace(args ...any)
	Print(args ...any)
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
	Fatal(args ...any)
	Panic(args ...any)

	// Log functions with format
	Tracef(format string, args ...any)
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	Panicf(format string, args ...any)
}
