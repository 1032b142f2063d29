package slog

import (
	"context"
	stdslog "log/slog"

	"github.com/unkn0wn-root/deskquery"
)

var _ deskquery.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

// New groups every field under "deskquery".
func New(l *stdslog.Logger) Logger { return Logger{L: l.WithGroup("deskquery")} }

func (s Logger) Debug(msg string, f deskquery.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f deskquery.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f deskquery.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f deskquery.Fields) { s.log(stdslog.LevelError, msg, f) }

func (s Logger) log(level stdslog.Level, msg string, f deskquery.Fields) {
	ctx := context.Background()
	if !s.L.Enabled(ctx, level) {
		return
	}
	s.L.LogAttrs(ctx, level, msg, attrs(f)...)
}

func attrs(f deskquery.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]stdslog.Attr, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, stdslog.String(k, err.Error()))
			continue
		}
		out = append(out, stdslog.Any(k, v))
	}
	return out
}
