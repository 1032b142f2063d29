package otelhooks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// recordingMeter keeps the running total of every Int64Counter it creates,
// keyed by instrument name and the first attribute value.
type recordingMeter struct {
	noop.Meter
	mu     sync.Mutex
	totals map[string]int64
	fail   string
}

type recordingCounter struct {
	noop.Int64Counter
	name string
	m    *recordingMeter
}

func (m *recordingMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	if name == m.fail {
		return nil, errors.New("instrument rejected")
	}
	return recordingCounter{name: name, m: m}, nil
}

func (c recordingCounter) Add(_ context.Context, v int64, opts ...metric.AddOption) {
	key := c.name
	set := metric.NewAddConfig(opts).Attributes()
	if iter := set.Iter(); iter.Next() {
		key += "/" + iter.Attribute().Value.Emit()
	}
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.totals[key] += v
}

func TestCountersByReason(t *testing.T) {
	m := &recordingMeter{totals: make(map[string]int64)}
	h, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h.FetchStarted(`["ticket","t-1"]`, 1)
	h.FetchStarted(`["ticket","t-1"]`, 2)
	h.FetchDiscarded(`["ticket","t-1"]`, 1, "superseded")
	h.Invalidated(`["tickets"]`, 3)
	h.Invalidated(`["nothing"]`, 0)
	h.MutationFailed("createTicket", errors.New("409"))
	h.SelfHeal("entry:desk:ab", "gen_mismatch")
	h.PersistError("bump", errors.New("redis down"))

	want := map[string]int64{
		"deskquery.fetch.started":                   2,
		"deskquery.fetch.discarded/superseded":      1,
		"deskquery.entry.invalidated":               3,
		"deskquery.mutation.failed/createTicket":    1,
		"deskquery.persist.self_heals/gen_mismatch": 1,
		"deskquery.persist.errors/bump":             1,
	}
	for k, v := range want {
		if m.totals[k] != v {
			t.Errorf("%s = %d, want %d (all: %v)", k, m.totals[k], v, m.totals)
		}
	}
}

func TestNewPropagatesInstrumentErrors(t *testing.T) {
	m := &recordingMeter{totals: make(map[string]int64), fail: "deskquery.persist.errors"}
	if _, err := New(m); err == nil {
		t.Fatalf("expected error")
	}
}
