package deskquery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/deskquery/clock"
	gen "github.com/unkn0wn-root/deskquery/genstore"
)

const (
	defaultGCDelay    = 5 * time.Minute
	defaultPersistTTL = 24 * time.Hour
	defaultSweep      = time.Hour
)

// discard reasons reported through Hooks.FetchDiscarded.
const (
	discardSuperseded   = "superseded"
	discardUnsubscribed = "unsubscribed"
	discardEvicted      = "evicted"
)

type entry struct {
	key  Key
	ek   encodedKey
	spec QuerySpec

	status    Status
	data      any
	hasData   bool
	err       error
	updatedAt time.Time
	stale     bool

	issued   uint64 // sequence of the latest request
	applied  uint64 // highest sequence reflected in data/err
	inflight bool   // the request with sequence issued has not settled

	// requests up to this sequence were issued before the last invalidation;
	// their replies are applied but leave the entry stale
	invalidated uint64

	subs map[uint64]*Subscription
	gc   clock.Timer
}

type cache struct {
	ns        string
	log       Logger
	hooks     Hooks
	clock     clock.Clock
	keys      keyEncoder
	gcDelay   time.Duration
	staleTime time.Duration
	persist   *persister // nil => memory only

	ctx    context.Context
	cancel context.CancelFunc
	flight singleflight.Group
	fetchs sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	nextSub uint64
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

func newCache(opts Options) (*cache, error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("deskquery: namespace is required")
	}
	keys, err := newKeyEncoder()
	if err != nil {
		return nil, fmt.Errorf("deskquery: key encoder: %w", err)
	}

	c := &cache{
		ns:        opts.Namespace,
		keys:      keys,
		staleTime: opts.StaleTime,
		entries:   make(map[string]*entry),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.clock = coalesce[clock.Clock](opts.Clock, clock.Real())
	c.gcDelay = coalesce[time.Duration](opts.GCDelay, defaultGCDelay)

	if opts.Store != nil {
		ttl := coalesce[time.Duration](opts.PersistTTL, defaultPersistTTL)
		gs := opts.GenStore
		if gs == nil {
			// counters must outlive every frame stamped with them
			gs = gen.NewLocalGenStore(c.clock, coalesce[time.Duration](opts.CleanupInterval, defaultSweep), 2*ttl)
		}
		c.persist = &persister{
			ns:    opts.Namespace,
			store: opts.Store,
			gens:  gs,
			ttl:   ttl,
			log:   c.log,
			hooks: c.hooks,
		}
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

func (c *cache) Subscribe(spec QuerySpec) (*Subscription, error) {
	if spec.Fetch == nil {
		return nil, fmt.Errorf("deskquery: query %s has no fetcher", spec.Key)
	}
	ek, err := c.keys.encode(spec.Key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	e := c.entryLocked(spec.Key, ek)
	if e.gc != nil {
		e.gc.Stop()
		e.gc = nil
	}
	e.spec = spec // the latest fetcher wins

	c.nextSub++
	s := &Subscription{c: c, e: e, id: c.nextSub, ch: make(chan struct{}, 1)}
	e.subs[s.id] = s

	if (!e.inflight || e.issued <= e.invalidated) && c.needsFetchLocked(e) {
		c.startFetchLocked(e)
	}
	return s, nil
}

func (c *cache) Fetch(ctx context.Context, spec QuerySpec) (Snapshot, error) {
	sub, err := c.Subscribe(spec)
	if err != nil {
		return Snapshot{}, err
	}
	defer sub.Unsubscribe()

	for {
		c.mu.Lock()
		e := sub.e
		if !e.inflight {
			snap := c.snapshotLocked(e)
			c.mu.Unlock()
			if snap.Status == StatusError {
				return snap, snap.Err
			}
			return snap, nil
		}
		// inflight implies the current call is registered under e.ek.id, so
		// this joins it and never runs the function.
		ch := c.flight.DoChan(e.ek.id, func() (any, error) { return nil, nil })
		c.mu.Unlock()

		select {
		case <-ch:
			// a newer request may have superseded the one we joined; loop
		case <-ctx.Done():
			return sub.Snapshot(), ctx.Err()
		}
	}
}

func (c *cache) Peek(key Key) (Snapshot, bool) {
	ek, err := c.keys.encode(key)
	if err != nil {
		return Snapshot{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ek.id]
	if !ok {
		return Snapshot{}, false
	}
	return c.snapshotLocked(e), true
}

func (c *cache) Refetch(key Key) bool {
	ek, err := c.keys.encode(key)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ek.id]
	if !ok || len(e.subs) == 0 || e.spec.Fetch == nil {
		return false
	}
	c.startFetchLocked(e)
	return true
}

func (c *cache) Invalidate(p Key) int {
	pat, err := c.keys.pattern(p)
	if err != nil {
		c.log.Warn("invalidate: bad pattern", Fields{"pattern": p.String(), "err": err})
		return 0
	}
	c.mu.Lock()
	n := c.invalidateLocked(pat, nil)
	c.mu.Unlock()

	if c.persist != nil {
		c.persist.invalidate(pat, nil)
	}
	return n
}

func (c *cache) Remove(p Key) int {
	pat, err := c.keys.pattern(p)
	if err != nil {
		c.log.Warn("remove: bad pattern", Fields{"pattern": p.String(), "err": err})
		return 0
	}
	c.mu.Lock()
	n, ids := c.removeLocked(pat)
	c.mu.Unlock()

	if c.persist != nil {
		c.persist.invalidate(pat, ids)
	}
	return n
}

func (c *cache) SetData(key Key, update func(old any, ok bool) any) bool {
	ek, err := c.keys.encode(key)
	if err != nil {
		c.log.Warn("set data: bad key", Fields{"key": key.String(), "err": err})
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.setDataLocked(key, ek, update)
	return true
}

func (c *cache) Commit(o Outcome) error {
	if o.Err != nil {
		c.hooks.MutationFailed(o.Mutation, o.Err)
		c.log.Warn("mutation failed", Fields{"mutation": o.Mutation, "err": o.Err})
		return nil
	}

	// encode everything before touching entries so a bad key leaves them as is
	type write struct {
		key    Key
		ek     encodedKey
		update func(any, bool) any
	}
	writes := make([]write, 0, len(o.Effects.Writes))
	for _, w := range o.Effects.Writes {
		ek, err := c.keys.encode(w.Key)
		if err != nil {
			return fmt.Errorf("deskquery: mutation %q write: %w", o.Mutation, err)
		}
		writes = append(writes, write{key: w.Key, ek: ek, update: w.Update})
	}
	invs := make([]pattern, 0, len(o.Effects.Invalidate))
	for _, p := range o.Effects.Invalidate {
		pat, err := c.keys.pattern(p)
		if err != nil {
			return fmt.Errorf("deskquery: mutation %q invalidate: %w", o.Mutation, err)
		}
		invs = append(invs, pat)
	}
	rems := make([]pattern, 0, len(o.Effects.Remove))
	for _, p := range o.Effects.Remove {
		pat, err := c.keys.pattern(p)
		if err != nil {
			return fmt.Errorf("deskquery: mutation %q remove: %w", o.Mutation, err)
		}
		rems = append(rems, pat)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	written := make(map[string]bool, len(writes))
	for _, w := range writes {
		c.setDataLocked(w.key, w.ek, w.update)
		written[w.ek.id] = true
	}
	for _, pat := range invs {
		c.invalidateLocked(pat, written)
	}
	removed := make([][]string, len(rems))
	for i, pat := range rems {
		_, removed[i] = c.removeLocked(pat)
	}
	c.mu.Unlock()

	if c.persist != nil {
		for _, pat := range invs {
			c.persist.invalidate(pat, nil)
		}
		for i, pat := range rems {
			c.persist.invalidate(pat, removed[i])
		}
	}
	c.log.Debug("mutation committed", Fields{
		"mutation":    o.Mutation,
		"writes":      len(writes),
		"invalidates": len(invs),
		"removes":     len(rems),
	})
	return nil
}

func (c *cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	n := len(c.entries)
	for id, e := range c.entries {
		if len(e.subs) == 0 {
			c.dropLocked(id, e)
			continue
		}
		// replies issued before the reset must not resurrect old data
		e.applied = e.issued
		e.invalidated = e.issued
		e.data, e.hasData, e.err = nil, false, nil
		e.status = StatusPending
		e.updatedAt = time.Time{}
		e.stale = true
		c.notifyLocked(e)
	}
	c.mu.Unlock()

	c.log.Info("cache cleared", Fields{"entries": n})
	if c.persist == nil {
		return nil
	}
	return c.persist.clear(ctx)
}

func (c *cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for _, e := range c.entries {
			if e.gc != nil {
				e.gc.Stop()
				e.gc = nil
			}
		}
		c.mu.Unlock()

		c.cancel()
		if err := waitCtx(ctx, &c.fetchs); err != nil {
			c.closeErr = err
			return
		}
		if c.persist != nil {
			c.closeErr = c.persist.close(ctx)
		}
	})
	return c.closeErr
}

// entryLocked returns the entry for ek, creating a pending one.
func (c *cache) entryLocked(key Key, ek encodedKey) *entry {
	if e, ok := c.entries[ek.id]; ok {
		return e
	}
	e := &entry{
		key:  append(Key(nil), key...),
		ek:   ek,
		subs: make(map[uint64]*Subscription),
	}
	c.entries[ek.id] = e
	return e
}

func (c *cache) needsFetchLocked(e *entry) bool {
	if e.stale || e.status != StatusSuccess {
		return true
	}
	return c.staleTime > 0 && c.clock.Now().Sub(e.updatedAt) >= c.staleTime
}

// startFetchLocked issues a new request for e. A request already in flight
// is superseded, not cancelled: its reply is dropped if this one has been
// applied first, and overwritten otherwise.
func (c *cache) startFetchLocked(e *entry) {
	if c.closed {
		return
	}
	e.issued++
	seq := e.issued
	e.inflight = true
	spec := e.spec
	hydrate := c.persist != nil && !e.hasData && e.applied == 0

	c.fetchs.Add(1)
	c.flight.Forget(e.ek.id)
	c.flight.DoChan(e.ek.id, func() (any, error) {
		defer c.fetchs.Done()
		c.runFetch(e, seq, spec, hydrate)
		return nil, nil
	})

	c.hooks.FetchStarted(e.ek.text, seq)
	c.log.Debug("fetch started", Fields{"key": e.ek.text, "seq": seq})
	c.notifyLocked(e)
}

func (c *cache) runFetch(e *entry, seq uint64, spec QuerySpec, hydrate bool) {
	ctx := c.ctx
	persist := c.persist != nil && spec.Encode != nil && spec.Decode != nil

	var obs uint64
	if persist {
		var ok bool
		if obs, ok = c.persist.observe(ctx, e.ek); !ok {
			persist = false
		}
	}
	if persist && hydrate {
		if v, at, ok := c.persist.load(ctx, e.ek, obs, spec.Decode); ok {
			c.hydrate(e, v, at)
		}
	}

	data, err := call(ctx, spec.Fetch)
	applied, at := c.settle(e, seq, data, err)
	if persist && applied && err == nil {
		c.persist.save(ctx, e.ek, obs, spec.Encode, data, at)
	}
}

func call(ctx context.Context, f Fetcher) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, panicError{v: r}
		}
	}()
	return f(ctx)
}

func (c *cache) hydrate(e *entry, v any, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[e.ek.id] != e || e.hasData || e.applied > 0 {
		return
	}
	e.data, e.hasData = v, true
	e.status = StatusSuccess
	e.updatedAt = at
	e.stale = true
	c.hooks.Hydrated(e.ek.text)
	c.notifyLocked(e)
}

// settle applies the reply for request seq. It reports whether the reply
// was applied and the time it was stamped with.
func (c *cache) settle(e *entry, seq uint64, data any, err error) (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := seq == e.issued
	if last {
		e.inflight = false
	}
	live := c.entries[e.ek.id] == e

	var reason string
	switch {
	case !live:
		reason = discardEvicted
	case seq <= e.applied:
		reason = discardSuperseded
	case len(e.subs) == 0:
		reason = discardUnsubscribed
		e.stale = true
	}
	if reason != "" {
		c.hooks.FetchDiscarded(e.ek.text, seq, reason)
		c.log.Debug("fetch discarded", Fields{"key": e.ek.text, "seq": seq, "reason": reason})
		if live && last {
			c.notifyLocked(e)
		}
		return false, time.Time{}
	}

	now := c.clock.Now()
	e.applied = seq
	if err != nil {
		// stale-while-error: keep the last good data
		e.status = StatusError
		e.err = err
		c.hooks.FetchFailed(e.ek.text, err)
		c.log.Warn("fetch failed", Fields{"key": e.ek.text, "seq": seq, "err": err})
	} else {
		e.status = StatusSuccess
		e.data, e.hasData = data, true
		e.err = nil
		e.updatedAt = now
		if last && seq > e.invalidated {
			e.stale = false
		}
	}
	c.notifyLocked(e)
	return true, now
}

func (c *cache) invalidateLocked(pat pattern, skip map[string]bool) int {
	n := 0
	for id, e := range c.entries {
		if skip[id] || !pat.match(e.ek) {
			continue
		}
		n++
		e.stale = true
		e.invalidated = e.issued
		if len(e.subs) > 0 && e.spec.Fetch != nil {
			c.startFetchLocked(e)
		}
	}
	c.hooks.Invalidated(pat.text, n)
	c.log.Debug("invalidated", Fields{"pattern": pat.text, "matched": n})
	return n
}

// removeLocked returns the number of matched entries and the ids of all of them.
func (c *cache) removeLocked(pat pattern) (int, []string) {
	var ids []string
	for id, e := range c.entries {
		if !pat.match(e.ek) {
			continue
		}
		ids = append(ids, id)
		if len(e.subs) == 0 {
			c.dropLocked(id, e)
			continue
		}
		e.applied = e.issued
		e.data, e.hasData, e.err = nil, false, nil
		e.status = StatusPending
		e.updatedAt = time.Time{}
		e.stale = true
		if e.spec.Fetch != nil {
			c.startFetchLocked(e)
		} else {
			c.notifyLocked(e)
		}
	}
	c.log.Debug("removed", Fields{"pattern": pat.text, "matched": len(ids)})
	return len(ids), ids
}

func (c *cache) setDataLocked(key Key, ek encodedKey, update func(any, bool) any) {
	e, existed := c.entries[ek.id]
	if !existed {
		e = c.entryLocked(key, ek)
	}
	e.data = update(e.data, e.hasData)
	e.hasData = true
	e.status = StatusSuccess
	e.err = nil
	e.updatedAt = c.clock.Now()
	e.stale = false
	// every reply issued so far predates this write
	e.applied = e.issued

	if !existed {
		c.scheduleGCLocked(e)
	}
	c.notifyLocked(e)
}

func (c *cache) unsubscribe(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := s.e
	if _, ok := e.subs[s.id]; !ok {
		return
	}
	delete(e.subs, s.id)
	close(s.ch)
	if len(e.subs) == 0 && c.entries[e.ek.id] == e {
		c.scheduleGCLocked(e)
	}
}

func (c *cache) scheduleGCLocked(e *entry) {
	if c.closed {
		return
	}
	if c.gcDelay < 0 {
		c.evictLocked(e)
		return
	}
	if e.gc != nil {
		e.gc.Stop()
	}
	e.gc = c.clock.AfterFunc(c.gcDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.entries[e.ek.id] == e && len(e.subs) == 0 {
			c.evictLocked(e)
		}
	})
}

func (c *cache) evictLocked(e *entry) {
	c.dropLocked(e.ek.id, e)
	c.hooks.EntryEvicted(e.ek.text)
	c.log.Debug("entry evicted", Fields{"key": e.ek.text})
}

func (c *cache) dropLocked(id string, e *entry) {
	if e.gc != nil {
		e.gc.Stop()
		e.gc = nil
	}
	delete(c.entries, id)
}

func (c *cache) notifyLocked(e *entry) {
	for _, s := range e.subs {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

func (c *cache) snapshotLocked(e *entry) Snapshot {
	return Snapshot{
		Key:         e.key,
		Status:      e.status,
		Data:        e.data,
		HasData:     e.hasData,
		Err:         e.err,
		UpdatedAt:   e.updatedAt,
		Stale:       e.stale || (c.staleTime > 0 && e.hasData && c.clock.Now().Sub(e.updatedAt) >= c.staleTime),
		Fetching:    e.inflight,
		Subscribers: len(e.subs),
	}
}

// waitCtx waits for wg or until ctx is done.
func waitCtx(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
