package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// appenderSet is shared by a logger and all of its subloggers.
type appenderSet struct {
	mu   sync.RWMutex
	list []Appender
}

func (as *appenderSet) add(a Appender) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.list = append(as.list, a)
}

func (as *appenderSet) snapshot() []Appender {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.list
}

type zapLogger struct {
	name      string
	level     AtomicLevel
	utc       bool
	appenders *appenderSet
}

func newZapLogger(name string, level Level, utc bool, appenders ...Appender) *zapLogger {
	return &zapLogger{
		name:      name,
		level:     NewAtomicLevelAt(level),
		utc:       utc,
		appenders: &appenderSet{list: appenders},
	}
}

func (l *zapLogger) Level() Level {
	return l.level.Get()
}

func (l *zapLogger) SetLevel(level Level) {
	l.level.Set(level)
}

func (l *zapLogger) AddAppender(appender Appender) {
	l.appenders.add(appender)
}

func (l *zapLogger) Sublogger(name string) Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return &zapLogger{name: name, level: NewAtomicLevelAt(l.level.Get()), utc: l.utc, appenders: l.appenders}
}

func (l *zapLogger) Sync() error {
	var err error
	for _, a := range l.appenders.snapshot() {
		err = multierr.Append(err, a.Sync())
	}
	return err
}

func (l *zapLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.write(DEBUG, false, msg, keysAndValues)
}

func (l *zapLogger) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.write(DEBUG, IsDebugMode(ctx), msg, keysAndValues)
}

func (l *zapLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.write(INFO, false, msg, keysAndValues)
}

func (l *zapLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.write(WARN, false, msg, keysAndValues)
}

// callerSkip climbs from write through the exported method to its caller.
const callerSkip = 2

func (l *zapLogger) write(level Level, force bool, msg string, keysAndValues []interface{}) {
	if !force && level < l.level.Get() {
		return
	}
	now := time.Now()
	if l.utc {
		now = now.UTC()
	}
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       now,
		LoggerName: l.name,
		Message:    msg,
	}
	if pc, file, line, ok := runtime.Caller(callerSkip); ok {
		entry.Caller = zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	}
	fields := pairsToFields(keysAndValues)
	for _, a := range l.appenders.snapshot() {
		if err := a.Write(entry, fields); err != nil {
			//nolint:errcheck
			fmt.Fprintln(os.Stderr, "failed to write log entry:", err)
		}
	}
}

var errUnpairedKey = errors.New("unpaired log key")

// pairsToFields reads keysAndValues as key, value, key, value... A trailing key gets an error
// value so the mistake shows up in the output.
func pairsToFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.NamedError(key, errUnpairedKey))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
