// Package zap adapts a *zap.Logger to deskquery.Logger. It is the CLI's
// default logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/deskquery"
)

var _ deskquery.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New names l "deskquery" so cache, transport and session lines can be
// filtered from the rest of the process.
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("deskquery")} }

func (z ZapLogger) Debug(msg string, f deskquery.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f deskquery.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f deskquery.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f deskquery.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f deskquery.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
