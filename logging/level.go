package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Level is the severity of a message. A logger writes messages at or above its level.
type Level int

// Levels in increasing severity.
const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{DEBUG: "debug", INFO: "info", WARN: "warn", ERROR: "error"}

func (level Level) String() string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(level))
}

// AsZap returns the matching zap level. Unknown levels map to error.
func (level Level) AsZap() zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// LevelFromString parses debug, info, warn (or warning) and error, ignoring case.
func LevelFromString(s string) (Level, error) {
	name := strings.ToLower(s)
	if name == "warning" {
		return WARN, nil
	}
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return DEBUG, errors.Errorf("unknown log level: %q", s)
}

// AtomicLevel is a Level safe for concurrent use.
type AtomicLevel struct {
	v *atomic.Int32
}

// NewAtomicLevelAt returns an AtomicLevel set to level.
func NewAtomicLevelAt(level Level) AtomicLevel {
	al := AtomicLevel{v: &atomic.Int32{}}
	al.Set(level)
	return al
}

// Set changes the level.
func (al AtomicLevel) Set(level Level) {
	al.v.Store(int32(level))
}

// Get returns the level.
func (al AtomicLevel) Get() Level {
	return Level(al.v.Load())
}
