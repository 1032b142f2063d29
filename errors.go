package deskquery

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a Cache after Close.
	ErrClosed = errors.New("deskquery: cache closed")
	// ErrEmptyKey is returned for a query key with no elements.
	ErrEmptyKey = errors.New("deskquery: empty key")
	// ErrNoData is returned by the typed Fetch when the entry settled
	// without data, e.g. because Clear discarded the reply.
	ErrNoData = errors.New("deskquery: no data")
)

// PersistError reports a failure of the persistence tier while resetting it
// (Clear). The in-memory state is already reset when it is returned; the
// caller decides whether a stale disk copy matters.
type PersistError struct {
	Op      string // "bump" or "delete"
	Key     string
	BumpErr error
	DelErr  error
}

func (e *PersistError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("deskquery: %s %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Op, e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("deskquery: %s %q: gen bump failed: %v", e.Op, e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("deskquery: %s %q: delete failed: %v", e.Op, e.Key, e.DelErr)
	default:
		return fmt.Sprintf("deskquery: %s %q: unknown error", e.Op, e.Key)
	}
}

func (e *PersistError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}

// panicError wraps a value recovered from a panicking Fetcher.
type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprintf("deskquery: fetcher panicked: %v", e.v) }
