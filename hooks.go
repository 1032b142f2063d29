package deskquery

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking and MUST NOT call back into
// the Cache: most of them run while the cache lock is held.
// Keys are rendered with Key.String.
type Hooks interface {
	// A network request for key was issued with sequence number seq.
	FetchStarted(key string, seq uint64)

	// A reply arrived but was not applied.
	// reason ∈ {"superseded", "unsubscribed", "evicted"}
	FetchDiscarded(key string, seq uint64, reason string)

	// An applied reply carried an error; previous data (if any) is kept.
	FetchFailed(key string, err error)

	// An entry was dropped by GC after its last subscriber left.
	EntryEvicted(key string)

	// Invalidate matched n entries for pattern.
	Invalidated(pattern string, n int)

	// A mutation failed; no entry was touched.
	MutationFailed(name string, err error)

	// An entry was filled from the persistence tier while its request runs.
	Hydrated(key string)

	// A persisted entry was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// The persistence tier failed.
	// op ∈ {"snapshot", "bump", "get", "set", "encode"}
	PersistError(op string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchStarted(string, uint64)           {}
func (NopHooks) FetchDiscarded(string, uint64, string) {}
func (NopHooks) FetchFailed(string, error)             {}
func (NopHooks) EntryEvicted(string)                   {}
func (NopHooks) Invalidated(string, int)               {}
func (NopHooks) MutationFailed(string, error)          {}
func (NopHooks) Hydrated(string)                       {}
func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) ProviderSetRejected(string)            {}
func (NopHooks) PersistError(string, error)            {}

// MultiHooks forwards every event to each element in order.
type MultiHooks []Hooks

func (m MultiHooks) FetchStarted(k string, seq uint64) {
	for _, h := range m {
		h.FetchStarted(k, seq)
	}
}

func (m MultiHooks) FetchDiscarded(k string, seq uint64, reason string) {
	for _, h := range m {
		h.FetchDiscarded(k, seq, reason)
	}
}

func (m MultiHooks) FetchFailed(k string, err error) {
	for _, h := range m {
		h.FetchFailed(k, err)
	}
}

func (m MultiHooks) EntryEvicted(k string) {
	for _, h := range m {
		h.EntryEvicted(k)
	}
}

func (m MultiHooks) Invalidated(p string, n int) {
	for _, h := range m {
		h.Invalidated(p, n)
	}
}

func (m MultiHooks) MutationFailed(name string, err error) {
	for _, h := range m {
		h.MutationFailed(name, err)
	}
}

func (m MultiHooks) Hydrated(k string) {
	for _, h := range m {
		h.Hydrated(k)
	}
}

func (m MultiHooks) SelfHeal(sk, reason string) {
	for _, h := range m {
		h.SelfHeal(sk, reason)
	}
}

func (m MultiHooks) ProviderSetRejected(sk string) {
	for _, h := range m {
		h.ProviderSetRejected(sk)
	}
}

func (m MultiHooks) PersistError(op string, err error) {
	for _, h := range m {
		h.PersistError(op, err)
	}
}
