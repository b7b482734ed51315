//go:build !tinygo

package esb

import (
	"github.com/sirupsen/logrus"
)

func init() {
	l := logrus.New()
	l.Formatter = new(logrus.TextFormatter)
	l.Level = logrus.WarnLevel
	globalLogger = NewLogrusLogger(l)
}

// logrusLogger adapts a logrus logger to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger returns a Logger writing through l with a component=esb field.
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{entry: l.WithField("component", "esb")}
}

func (l *logrusLogger) Debug(msg string) { l.entry.Debug(msg) }
func (l *logrusLogger) Info(msg string)  { l.entry.Info(msg) }
func (l *logrusLogger) Warn(msg string)  { l.entry.Warn(msg) }
func (l *logrusLogger) Error(msg string) { l.entry.Error(msg) }
