package deskquery

import (
	"context"
	"time"

	"github.com/unkn0wn-root/deskquery/clock"
	gen "github.com/unkn0wn-root/deskquery/genstore"
	pr "github.com/unkn0wn-root/deskquery/provider"
)

// Fetcher performs the network call for one query key.
type Fetcher func(ctx context.Context) (any, error)

// QuerySpec is the untyped description of a query. Most callers use Query[T].
type QuerySpec struct {
	Key   Key
	Fetch Fetcher

	// Encode and Decode enable the persistence tier for this query. Both nil
	// => the entry lives in memory only.
	Encode func(v any) ([]byte, error)
	Decode func(b []byte) (any, error)
}

// Cache is the resource cache shared by every view of the process.
// Create one with New and pass it explicitly; it is safe for concurrent use.
type Cache interface {
	// Subscribe registers interest in spec.Key and returns immediately. A
	// request starts if the entry has no data, is stale, errored or aged past
	// StaleTime, and none is in flight.
	Subscribe(spec QuerySpec) (*Subscription, error)
	// Fetch starts or joins the request for spec.Key and waits for it.
	Fetch(ctx context.Context, spec QuerySpec) (Snapshot, error)
	// Peek returns the entry for key without subscribing.
	Peek(key Key) (Snapshot, bool)
	// Refetch forces a new request for key if it has subscribers.
	Refetch(key Key) bool

	// Invalidate marks entries matching pattern stale and refetches those
	// with subscribers. It returns the number of matched entries.
	Invalidate(pattern Key) int
	// Remove drops entries matching pattern; entries still subscribed lose
	// their data and refetch instead.
	Remove(pattern Key) int
	// SetData writes update(old) into the entry for key, creating it if
	// needed. Replies issued before the write are discarded.
	SetData(key Key, update func(old any, ok bool) any) bool
	// Commit applies the outcome of a mutation.
	Commit(o Outcome) error

	// Clear resets the cache on logout. Entries without subscribers are
	// dropped; subscribed ones become pending with no data and are not
	// refetched, so open subscriptions call Refetch once a new session
	// exists. A later Subscribe or Fetch on such a key starts a new request.
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// Options tune the cache. Only Namespace is required.
type Options struct {
	// Required
	Namespace string // isolates persisted entries, e.g. "desk"

	Logger    Logger        // if nil, NopLogger is used
	Hooks     Hooks         // if nil, NopHooks is used
	Clock     clock.Clock   // nil => clock.Real()
	GCDelay   time.Duration // unobserved entry lifetime; 0 => 5m, < 0 => immediate
	StaleTime time.Duration // age after which data is refetched on subscribe; 0 => never

	// Persistence tier (optional).
	Store           pr.Provider   // nil => memory only
	GenStore        gen.GenStore  // nil with Store => LocalGenStore
	PersistTTL      time.Duration // 0 => 24h
	CleanupInterval time.Duration // LocalGenStore sweep; 0 => 1h
}

func New(opts Options) (Cache, error) {
	return newCache(opts)
}
