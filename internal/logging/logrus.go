package logging

import "github.com/sirupsen/logrus"

// LogrusLogger adapts a *logrus.Logger to the interfaces.Logger shape
// (Printf/Debugf), for deployments that already centralize logging
// through logrus and want xiotcp's connection logs folded into the
// same sink/formatter/hook chain instead of the built-in Logger.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps l, optionally pre-seeded with fields (e.g.
// logrus.Fields{"component": "xiotcp"}).
func NewLogrusLogger(l *logrus.Logger, fields logrus.Fields) *LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: l.WithFields(fields)}
}

func (l *LogrusLogger) Printf(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *LogrusLogger) Debugf(format string, args ...any)  { l.entry.Debugf(format, args...) }
