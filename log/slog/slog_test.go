package slog

import (
	"bytes"
	"encoding/json"
	"errors"
	stdslog "log/slog"
	"testing"

	"github.com/unkn0wn-root/deskquery"
)

func TestSlogLoggerGroupsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})))

	l.Debug("suppressed", deskquery.Fields{"k": 1})
	l.Warn("fetch failed", deskquery.Fields{"key": `["client","c-1"]`, "err": errors.New("timeout")})

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("want exactly one JSON record, got %q: %v", buf.String(), err)
	}
	group, ok := rec["deskquery"].(map[string]any)
	if !ok {
		t.Fatalf("fields not grouped: %v", rec)
	}
	if group["err"] != "timeout" || group["key"] != `["client","c-1"]` {
		t.Fatalf("group = %v", group)
	}
}
