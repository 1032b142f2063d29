package deskquery

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/deskquery/codec"
)

// Query describes a typed query: the key, how to fetch it and, optionally,
// how to persist it.
type Query[T any] struct {
	Key   Key
	Fetch func(ctx context.Context) (T, error)
	Codec codec.Codec[T] // nil => not persisted
}

// Spec lowers q to its untyped form.
func (q Query[T]) Spec() QuerySpec {
	spec := QuerySpec{Key: q.Key}
	if q.Fetch != nil {
		fetch := q.Fetch
		spec.Fetch = func(ctx context.Context) (any, error) {
			v, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	if q.Codec != nil {
		cd := q.Codec
		spec.Encode = func(v any) ([]byte, error) {
			t, ok := v.(T)
			if !ok {
				return nil, fmt.Errorf("deskquery: %s holds %T", q.Key, v)
			}
			return cd.Encode(t)
		}
		spec.Decode = func(b []byte) (any, error) { return cd.Decode(b) }
	}
	return spec
}

// Result is the typed view of a Snapshot.
type Result[T any] struct {
	Status    Status
	Data      T
	HasData   bool
	Err       error
	UpdatedAt time.Time
	Stale     bool
	Fetching  bool
}

func (r Result[T]) IsPending() bool { return r.Status == StatusPending }
func (r Result[T]) IsError() bool   { return r.Status == StatusError }

func resultOf[T any](s Snapshot) Result[T] {
	r := Result[T]{
		Status:    s.Status,
		Err:       s.Err,
		UpdatedAt: s.UpdatedAt,
		Stale:     s.Stale,
		Fetching:  s.Fetching,
	}
	if s.HasData {
		r.Data, r.HasData = s.Data.(T)
	}
	return r
}

// Observer is a typed Subscription.
type Observer[T any] struct {
	sub *Subscription
}

// Subscribe is the typed form of Cache.Subscribe.
func Subscribe[T any](c Cache, q Query[T]) (*Observer[T], error) {
	sub, err := c.Subscribe(q.Spec())
	if err != nil {
		return nil, err
	}
	return &Observer[T]{sub: sub}, nil
}

func (o *Observer[T]) Result() Result[T]           { return resultOf[T](o.sub.Snapshot()) }
func (o *Observer[T]) Changes() <-chan struct{}    { return o.sub.Changes() }
func (o *Observer[T]) Refetch()                    { o.sub.Refetch() }
func (o *Observer[T]) Unsubscribe()                { o.sub.Unsubscribe() }
func (o *Observer[T]) Subscription() *Subscription { return o.sub }

// Fetch is the typed form of Cache.Fetch. On a failed request it returns the
// last good data (if any) together with the error.
func Fetch[T any](ctx context.Context, c Cache, q Query[T]) (T, error) {
	snap, err := c.Fetch(ctx, q.Spec())
	r := resultOf[T](snap)
	if err != nil {
		return r.Data, err
	}
	if !snap.HasData {
		var zero T
		return zero, fmt.Errorf("%w for %s", ErrNoData, q.Key)
	}
	if !r.HasData {
		var zero T
		return zero, fmt.Errorf("deskquery: %s holds %T", q.Key, snap.Data)
	}
	return r.Data, nil
}

// GetQueryData returns the cached value for key without subscribing.
func GetQueryData[T any](c Cache, key Key) (T, bool) {
	var zero T
	snap, ok := c.Peek(key)
	if !ok || !snap.HasData {
		return zero, false
	}
	v, ok := snap.Data.(T)
	return v, ok
}

// SetQueryData writes v into the entry for key.
func SetQueryData[T any](c Cache, key Key, v T) bool {
	return c.SetData(key, func(any, bool) any { return v })
}
