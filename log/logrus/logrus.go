// Package logrus adapts sirupsen/logrus to querykit.Logger.
package logrus

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/bountydotnew/querykit"
)

type LogrusLogger struct{ E *logrus.Entry }

var _ querykit.Logger = LogrusLogger{}

// New builds a logger writing to w. json selects the JSON formatter.
func New(w io.Writer, level string, json bool) (LogrusLogger, error) {
	l := logrus.New()
	l.SetOutput(w)
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return LogrusLogger{}, err
		}
		l.SetLevel(lvl)
	}
	return LogrusLogger{E: logrus.NewEntry(l)}, nil
}

// Named returns a child logger tagged with a component name.
func (l LogrusLogger) Named(name string) LogrusLogger {
	return LogrusLogger{E: l.E.WithField("component", name)}
}

func (l LogrusLogger) Debug(msg string, f querykit.Fields) { l.entry(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f querykit.Fields)  { l.entry(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f querykit.Fields)  { l.entry(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f querykit.Fields) { l.entry(f).Error(msg) }

func (l LogrusLogger) entry(f querykit.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	fields := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			fields[logrus.ErrorKey] = err
			continue
		}
		fields[k] = v
	}
	return l.E.WithFields(fields)
}
