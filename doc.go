// Package deskquery is the resource cache behind the support dashboard.
// Views subscribe to keyed queries; the cache deduplicates requests per key,
// rejects replies older than the data it already holds, and lets mutations
// invalidate, remove or write through the entries they affect.
//
// Components:
//   - Cache: keyed entries, subscriptions, invalidation and GC.
//   - Query[T] / Mutation[I, O]: typed descriptions used by the resources package.
//   - Persistence tier (optional): provider.Provider + genstore.GenStore. Entries
//     are written after each applied reply and hydrated on first use.
//
// Keys:
//
//	Key{"tickets", map[string]string{"status": "open"}}
//	Key{"ticket", "t-42"}
//
// Patterns match by prefix; Any matches one element:
//
//	cache.Invalidate(deskquery.Key{"tickets"})       // every ticket list
//	cache.Invalidate(deskquery.Key{deskquery.Any})   // everything
//
// Ordering:
//
//	every request carries a per-key sequence number; a reply is applied only
//	if it is newer than the last applied one, whatever the arrival order.
package deskquery
