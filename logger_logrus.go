// SPDX-License-Identifier: MIT

package qgate

import "github.com/sirupsen/logrus"

// LogrusLogger adapts a *logrus.Logger (or *logrus.Entry) to the Logger
// interface, for applications that already standardize on logrus for their
// own structured logging (see facebook-time's use of logrus for its CLI
// tools).
type LogrusLogger struct {
	entry *logrus.Entry
}

var _ Logger = (*LogrusLogger)(nil)

// NewLogrusLogger wraps l with a "component" field set to prepend.
func NewLogrusLogger(l *logrus.Logger, prepend string) *LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: l.WithField("component", prepend)}
}

func (l *LogrusLogger) Debug(v ...interface{})            { l.entry.Debug(v...) }
func (l *LogrusLogger) Debugf(f string, v ...interface{}) { l.entry.Debugf(f, v...) }
func (l *LogrusLogger) Info(v ...interface{})             { l.entry.Info(v...) }
func (l *LogrusLogger) Infof(f string, v ...interface{})  { l.entry.Infof(f, v...) }
func (l *LogrusLogger) Error(v ...interface{})            { l.entry.Error(v...) }
func (l *LogrusLogger) Errorf(f string, v ...interface{}) { l.entry.Errorf(f, v...) }
