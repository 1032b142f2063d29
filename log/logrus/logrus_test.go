package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/deskquery"
)

func TestLogrusLoggerFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Error("persisted invalidation failed", deskquery.Fields{"pattern": `["tickets"]`, "err": errors.New("redis down")})

	e := hook.LastEntry()
	if e == nil || e.Level != logrus.ErrorLevel {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Data["component"] != "deskquery" || e.Data["pattern"] != `["tickets"]` {
		t.Fatalf("data = %v", e.Data)
	}
	if err, ok := e.Data[logrus.ErrorKey].(error); !ok || err.Error() != "redis down" {
		t.Fatalf("error field = %v", e.Data[logrus.ErrorKey])
	}
}
