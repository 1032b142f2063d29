// Package sloghooks logs cache events through log/slog with sampling for the
// noisy ones and redaction of keys, which can carry client names or emails
// through list filters.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/deskquery"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	DiscardEvery  uint64
	// Log every FetchStarted at debug level.
	TraceFetches bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	discardCtr  atomic.Uint64
}

var _ deskquery.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchStarted(key string, seq uint64) {
	if h.l == nil || !h.opts.TraceFetches {
		return
	}
	h.l.Debug("deskquery.fetch_started", "key", h.redact(key), "seq", seq)
}

func (h *Hooks) FetchDiscarded(key string, seq uint64, reason string) {
	if h.l == nil || !sample(h.opts.DiscardEvery, &h.discardCtr) {
		return
	}
	h.l.Debug("deskquery.fetch_discarded",
		"key", h.redact(key),
		"seq", seq,
		"reason", reason)
}

func (h *Hooks) FetchFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("deskquery.fetch_failed", "key", h.redact(key), "err", err)
}

func (h *Hooks) EntryEvicted(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("deskquery.entry_evicted", "key", h.redact(key))
}

func (h *Hooks) Invalidated(pattern string, n int) {
	if h.l == nil {
		return
	}
	h.l.Debug("deskquery.invalidated", "pattern", h.redact(pattern), "matched", n)
}

func (h *Hooks) MutationFailed(name string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("deskquery.mutation_failed", "mutation", name, "err", err)
}

func (h *Hooks) Hydrated(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("deskquery.hydrated", "key", h.redact(key))
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("deskquery.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("deskquery.provider_set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) PersistError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("deskquery.persist_error", "op", op, "err", err)
}
