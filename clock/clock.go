// Package clock abstracts the time operations used by the cache GC timers,
// stale-time checks and the session refresh task, so tests can drive them
// deterministically with Fake.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package deskquery depends on.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f on its own goroutine (Real) or synchronously from
	// Advance (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was prevented.
	Stop() bool
}

// Ticker wraps a periodic timer. C has capacity 1; late ticks are dropped.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// Fake is a manually advanced Clock. The zero value is not usable; call NewFake.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*fakeTimer
}

type fakeTimer struct {
	at     time.Time
	seq    uint64
	f      func()            // AfterFunc
	ch     chan time.Time    // ticker
	period time.Duration     // ticker
	owner  *Fake
}

// NewFake returns a Fake positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, timers: make(map[uint64]*fakeTimer)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	if d <= 0 {
		f.mu.Unlock()
		fn()
		return &fakeTimer{owner: f}
	}
	t := f.add(d, fn, nil, 0)
	f.mu.Unlock()
	return t
}

func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	t := f.add(d, nil, ch, d)
	f.mu.Unlock()
	return &Ticker{C: ch, stop: func() { t.Stop() }}
}

// must hold f.mu
func (f *Fake) add(d time.Duration, fn func(), ch chan time.Time, period time.Duration) *fakeTimer {
	f.seq++
	t := &fakeTimer{at: f.now.Add(d), seq: f.seq, f: fn, ch: ch, period: period, owner: f}
	f.timers[t.seq] = t
	return t
}

// Pending returns the number of scheduled timers and tickers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// AfterFunc callbacks run synchronously on the caller's goroutine.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		due := make([]*fakeTimer, 0, len(f.timers))
		for _, t := range f.timers {
			if !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		t := due[0]
		f.now = t.at
		if t.period > 0 {
			t.at = t.at.Add(t.period)
			select {
			case t.ch <- f.now:
			default:
			}
			continue
		}
		delete(f.timers, t.seq)
		f.mu.Unlock()
		t.f()
		f.mu.Lock()
	}
	f.now = target
	f.mu.Unlock()
}

func (t *fakeTimer) Stop() bool {
	if t.owner == nil || t.seq == 0 {
		return false
	}
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if _, ok := t.owner.timers[t.seq]; !ok {
		return false
	}
	delete(t.owner.timers, t.seq)
	return true
}
