package deskquery

import "time"

// Status is the lifecycle state of an entry.
type Status uint8

const (
	StatusPending Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of an entry handed to views.
// Data is shared with the cache and must be treated as read-only.
type Snapshot struct {
	Key         Key
	Status      Status
	Data        any
	HasData     bool
	Err         error // set when Status == StatusError; Data may still hold the last good value
	UpdatedAt   time.Time
	Stale       bool
	Fetching    bool
	Subscribers int
}
