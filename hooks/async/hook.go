// Package asynchook moves Hooks calls off the cache lock onto a bounded
// queue served by worker goroutines. Events are dropped, never blocked on,
// when the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := deskquery.New(deskquery.Options{
//	    Namespace: "desk",
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/deskquery"
)

type Hooks struct {
	inner   deskquery.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ deskquery.Hooks = (*Hooks)(nil)

func New(inner deskquery.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Close the cache first:
// events sent after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped returns the number of events lost to a full queue.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed queue
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchStarted(k string, seq uint64) { h.try(func() { h.inner.FetchStarted(k, seq) }) }
func (h *Hooks) FetchFailed(k string, err error)   { h.try(func() { h.inner.FetchFailed(k, err) }) }
func (h *Hooks) EntryEvicted(k string)             { h.try(func() { h.inner.EntryEvicted(k) }) }
func (h *Hooks) Invalidated(p string, n int)       { h.try(func() { h.inner.Invalidated(p, n) }) }
func (h *Hooks) Hydrated(k string)                 { h.try(func() { h.inner.Hydrated(k) }) }
func (h *Hooks) SelfHeal(k, r string)              { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string)      { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) PersistError(op string, err error) { h.try(func() { h.inner.PersistError(op, err) }) }
func (h *Hooks) FetchDiscarded(k string, seq uint64, r string) {
	h.try(func() { h.inner.FetchDiscarded(k, seq, r) })
}
func (h *Hooks) MutationFailed(name string, err error) {
	h.try(func() { h.inner.MutationFailed(name, err) })
}
