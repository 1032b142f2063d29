package genstore

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/deskquery/clock"
)

type localGen struct {
	gen    uint64
	bumped time.Time
}

// LocalGenStore keeps generations in-process.
//
// Pruning a counter resets it to 0, which could make an entry persisted at
// generation 0 look current again; retention must therefore exceed the
// persistence TTL (the cache enforces this when it builds the default store).
type LocalGenStore struct {
	mu    sync.RWMutex
	gens  map[string]localGen
	clock clock.Clock

	ticker *clock.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

// NewLocalGenStore starts a cleanup loop when both durations are positive.
// clk may be nil (real time).
func NewLocalGenStore(clk clock.Clock, cleanupInterval, retention time.Duration) *LocalGenStore {
	if clk == nil {
		clk = clock.Real()
	}
	s := &LocalGenStore{gens: make(map[string]localGen), clock: clk}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = clk.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.cleanupLoop(retention)
	}
	return s
}

func (s *LocalGenStore) cleanupLoop(retention time.Duration) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Cleanup(retention)
		case <-s.stopCh:
			return
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[k].gen
	s.mu.RUnlock()
	return g, nil
}

// SnapshotMany reads all keys under one read lock.
func (s *LocalGenStore) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	s.mu.RLock()
	for _, k := range ks {
		out[k] = s.gens[k].gen
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	now := s.clock.Now()
	s.mu.Lock()
	e := s.gens[k]
	e.gen++
	e.bumped = now
	s.gens[k] = e
	s.mu.Unlock()
	return e.gen, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-retention)
	s.mu.Lock()
	for k, e := range s.gens {
		if e.bumped.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *LocalGenStore) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
