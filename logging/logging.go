// Package logging contains the zap backed logger used by the registration pipeline and CLI.
package logging

// NewBlankLogger returns a logger at DEBUG with no appenders. Nothing is written until one is
// added with AddAppender.
func NewBlankLogger(name string) Logger {
	return newZapLogger(name, DEBUG, true)
}
