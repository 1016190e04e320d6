package logging

import (
	"io"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimeFormat is the timestamp layout of every appender in this package.
const TimeFormat = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. It is the write half of zapcore.Core, so an observer core
// can be used as one.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// formatLine renders an entry as tab separated columns: time, level, logger, caller, message and
// the fields as one JSON object in the order they were given.
func formatLine(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	cols := []string{entry.Time.Format(TimeFormat), strings.ToUpper(entry.Level.String()), entry.LoggerName}
	if entry.Caller.Defined {
		cols = append(cols, entry.Caller.TrimmedPath())
	}
	cols = append(cols, entry.Message)
	if len(fields) > 0 {
		enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
		buf, err := enc.EncodeEntry(zapcore.Entry{}, fields)
		if err != nil {
			return strings.Join(cols, "\t"), err
		}
		cols = append(cols, buf.String())
		buf.Free()
	}
	return strings.Join(cols, "\t"), nil
}

// ConsoleAppender writes human readable lines to a writer.
type ConsoleAppender struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterAppender returns an appender writing to w.
func NewWriterAppender(w io.Writer) *ConsoleAppender {
	return &ConsoleAppender{w: w}
}

// NewFileAppender returns an appender writing to filename, rotated once it reaches maxSizeMB with
// maxBackups old files kept.
func NewFileAppender(filename string, maxSizeMB, maxBackups int) *ConsoleAppender {
	return NewWriterAppender(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	})
}

// Write formats and writes one entry.
func (ca *ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatLine(entry, fields)
	if err != nil {
		return err
	}
	ca.mu.Lock()
	defer ca.mu.Unlock()
	_, err = io.WriteString(ca.w, line+"\n")
	return err
}

// Sync flushes writers that buffer, such as files.
func (ca *ConsoleAppender) Sync() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if s, ok := ca.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Close closes the writer when it is closable, e.g. a rotating log file.
func (ca *ConsoleAppender) Close() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if c, ok := ca.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
