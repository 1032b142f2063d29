package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/deskquery"
)

var _ deskquery.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New tags every line with component=deskquery.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "deskquery")}
}

func (l LogrusLogger) Debug(msg string, f deskquery.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f deskquery.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f deskquery.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f deskquery.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f deskquery.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		// logrus renders errors only under its own key
		if err, ok := v.(error); ok && k == "err" {
			out[logrus.ErrorKey] = err
			continue
		}
		out[k] = v
	}
	return l.E.WithFields(out)
}
