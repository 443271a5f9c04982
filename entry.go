package querycache

import "time"

type Status uint8

const (
	Idle Status = iota
	Fetching
	Success
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is an immutable snapshot of one cached key.
type Entry[V any] struct {
	Key         Key
	Data        V
	HasData     bool
	Status      Status
	Err         error // *FetchError when Status == Error
	UpdatedAt   time.Time
	Subscribers int
	Stale       bool // invalidated (or self-healed) since the last write
}
