package logging

import "context"

// Logger writes structured messages: a message followed by alternating keys and values. Subloggers
// share their parent's appenders, including ones added later, but have their own level.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	// CDebugw also logs when ctx was returned by EnableDebugMode, whatever the level.
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Level() Level
	SetLevel(level Level)
	Sublogger(name string) Logger
	AddAppender(appender Appender)
	// Sync flushes every appender.
	Sync() error
}
