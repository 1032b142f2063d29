package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is an RFC 3339 instant. Values are normalized to UTC on decode
// and always encoded in UTC, whatever offset the server used.
type Timestamp struct{ time.Time }

// At returns t as a UTC Timestamp.
func At(t time.Time) Timestamp { return Timestamp{t.UTC()} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("model: timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("model: timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
