package deskquery

import (
	"context"
	"sync"
)

// Write replaces the data of one entry after a successful mutation.
type Write struct {
	Key    Key
	Update func(old any, ok bool) any
}

// WriteValue returns a Write that stores v under key.
func WriteValue[T any](key Key, v T) Write {
	return Write{Key: key, Update: func(any, bool) any { return v }}
}

// UpdateValue returns a Write that derives the new value from the cached one.
// ok is false when the entry is missing or holds another type.
func UpdateValue[T any](key Key, f func(old T, ok bool) T) Write {
	return Write{Key: key, Update: func(old any, has bool) any {
		t, ok := old.(T)
		return f(t, has && ok)
	}}
}

// Effects is what a successful mutation does to the cache. Writes apply
// first; invalidations skip written keys; removals run last.
type Effects struct {
	Writes     []Write
	Invalidate []Key
	Remove     []Key
}

// Outcome reports a finished mutation to Cache.Commit. A non-nil Err leaves
// every entry untouched.
type Outcome struct {
	Mutation string
	Err      error
	Effects  Effects
}

// Mutation is a one-shot server operation plus the entries it affects.
type Mutation[I, O any] struct {
	Name        string
	Execute     func(ctx context.Context, in I) (O, error)
	Invalidates func(in I, out O) []Key
	Writes      func(in I, out O) []Write
	Removes     func(in I, out O) []Key
}

func (m Mutation[I, O]) effects(in I, out O) Effects {
	var eff Effects
	if m.Writes != nil {
		eff.Writes = m.Writes(in, out)
	}
	if m.Invalidates != nil {
		eff.Invalidate = m.Invalidates(in, out)
	}
	if m.Removes != nil {
		eff.Remove = m.Removes(in, out)
	}
	return eff
}

// Mutate runs m and applies its effects on success.
func Mutate[I, O any](ctx context.Context, c Cache, m Mutation[I, O], in I) (O, error) {
	out, err := m.Execute(ctx, in)
	if err != nil {
		_ = c.Commit(Outcome{Mutation: m.Name, Err: err})
		var zero O
		return zero, err
	}
	if err := c.Commit(Outcome{Mutation: m.Name, Effects: m.effects(in, out)}); err != nil {
		return out, err
	}
	return out, nil
}

// MutationStatus is the state of one Run.
type MutationStatus uint8

const (
	MutationIdle MutationStatus = iota
	MutationPending
	MutationSuccess
	MutationError
)

func (s MutationStatus) String() string {
	switch s {
	case MutationIdle:
		return "idle"
	case MutationPending:
		return "pending"
	case MutationSuccess:
		return "success"
	case MutationError:
		return "error"
	default:
		return "unknown"
	}
}

// Run tracks one asynchronous mutation.
type Run[O any] struct {
	done chan struct{}

	mu     sync.Mutex
	status MutationStatus
	out    O
	err    error
}

// MutateAsync starts m on its own goroutine and returns immediately.
func MutateAsync[I, O any](ctx context.Context, c Cache, m Mutation[I, O], in I) *Run[O] {
	r := &Run[O]{done: make(chan struct{}), status: MutationPending}
	go func() {
		out, err := Mutate(ctx, c, m, in)
		r.mu.Lock()
		r.out, r.err = out, err
		if err != nil {
			r.status = MutationError
		} else {
			r.status = MutationSuccess
		}
		r.mu.Unlock()
		close(r.done)
	}()
	return r
}

func (r *Run[O]) Done() <-chan struct{} { return r.done }

func (r *Run[O]) Status() MutationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result blocks until the run finishes.
func (r *Run[O]) Result() (O, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out, r.err
}

// Wait is Result bounded by ctx.
func (r *Run[O]) Wait(ctx context.Context) (O, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		var zero O
		return zero, ctx.Err()
	}
}
