// Package otelhooks turns cache events into OpenTelemetry counters.
//
//	meter := otel.GetMeterProvider().Meter("deskquery")
//	hooks, err := otelhooks.New(meter)
//
// Keys are never used as attributes; only bounded values (reasons, ops,
// mutation names) are.
package otelhooks

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/unkn0wn-root/deskquery"
)

type Hooks struct {
	fetchStarted   metric.Int64Counter
	fetchDiscarded metric.Int64Counter
	fetchFailed    metric.Int64Counter
	evicted        metric.Int64Counter
	invalidated    metric.Int64Counter
	mutationFailed metric.Int64Counter
	hydrated       metric.Int64Counter
	selfHeals      metric.Int64Counter
	setRejected    metric.Int64Counter
	persistErrors  metric.Int64Counter
}

var _ deskquery.Hooks = (*Hooks)(nil)

func New(m metric.Meter) (*Hooks, error) {
	// ── Requests ──────────────────────────────────────────────────────────────

	fetchStarted, err := m.Int64Counter("deskquery.fetch.started",
		metric.WithDescription("Network requests issued by the cache"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDiscarded, err := m.Int64Counter("deskquery.fetch.discarded",
		metric.WithDescription("Replies dropped by reason (superseded, unsubscribed, evicted)"),
		metric.WithUnit("{reply}"),
	)
	if err != nil {
		return nil, err
	}

	fetchFailed, err := m.Int64Counter("deskquery.fetch.failed",
		metric.WithDescription("Applied replies that carried an error"),
		metric.WithUnit("{reply}"),
	)
	if err != nil {
		return nil, err
	}

	// ── Entries ───────────────────────────────────────────────────────────────

	evicted, err := m.Int64Counter("deskquery.entry.evicted",
		metric.WithDescription("Entries collected after their last subscriber left"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	invalidated, err := m.Int64Counter("deskquery.entry.invalidated",
		metric.WithDescription("Entries marked stale by invalidation"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	mutationFailed, err := m.Int64Counter("deskquery.mutation.failed",
		metric.WithDescription("Failed mutations by name"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, err
	}

	// ── Persistence tier ──────────────────────────────────────────────────────

	hydrated, err := m.Int64Counter("deskquery.persist.hydrated",
		metric.WithDescription("Entries filled from the persistence tier"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	selfHeals, err := m.Int64Counter("deskquery.persist.self_heals",
		metric.WithDescription("Persisted entries deleted on read by reason"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	setRejected, err := m.Int64Counter("deskquery.persist.set_rejected",
		metric.WithDescription("Writes rejected by the provider under pressure"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	persistErrors, err := m.Int64Counter("deskquery.persist.errors",
		metric.WithDescription("Persistence tier failures by operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &Hooks{
		fetchStarted:   fetchStarted,
		fetchDiscarded: fetchDiscarded,
		fetchFailed:    fetchFailed,
		evicted:        evicted,
		invalidated:    invalidated,
		mutationFailed: mutationFailed,
		hydrated:       hydrated,
		selfHeals:      selfHeals,
		setRejected:    setRejected,
		persistErrors:  persistErrors,
	}, nil
}

func (h *Hooks) FetchStarted(string, uint64) {
	h.fetchStarted.Add(context.Background(), 1)
}

func (h *Hooks) FetchDiscarded(_ string, _ uint64, reason string) {
	h.fetchDiscarded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (h *Hooks) FetchFailed(string, error) {
	h.fetchFailed.Add(context.Background(), 1)
}

func (h *Hooks) EntryEvicted(string) {
	h.evicted.Add(context.Background(), 1)
}

func (h *Hooks) Invalidated(_ string, n int) {
	if n == 0 {
		return
	}
	h.invalidated.Add(context.Background(), int64(n))
}

func (h *Hooks) MutationFailed(name string, _ error) {
	h.mutationFailed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("mutation", name)))
}

func (h *Hooks) Hydrated(string) {
	h.hydrated.Add(context.Background(), 1)
}

func (h *Hooks) SelfHeal(_ string, reason string) {
	h.selfHeals.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (h *Hooks) ProviderSetRejected(string) {
	h.setRejected.Add(context.Background(), 1)
}

func (h *Hooks) PersistError(op string, _ error) {
	h.persistErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}
