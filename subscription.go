package deskquery

// Subscription is one view's interest in a key. The entry is kept alive
// while at least one Subscription is open.
type Subscription struct {
	c  *cache
	e  *entry
	id uint64
	ch chan struct{}
}

func (s *Subscription) Key() Key { return s.e.key }

// Snapshot returns the current state of the entry.
func (s *Subscription) Snapshot() Snapshot {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.snapshotLocked(s.e)
}

// Changes receives a value after the entry changed. Notifications coalesce:
// read Snapshot after each one. The channel is closed by Unsubscribe.
func (s *Subscription) Changes() <-chan struct{} { return s.ch }

// Refetch issues a new request for the entry, superseding one in flight.
// It is a no-op after Unsubscribe.
func (s *Subscription) Refetch() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if _, ok := s.e.subs[s.id]; !ok || s.c.entries[s.e.ek.id] != s.e {
		return
	}
	s.c.startFetchLocked(s.e)
}

// Unsubscribe releases the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() { s.c.unsubscribe(s) }
