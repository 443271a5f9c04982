package querycache

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled is returned to Fetch callers when the in-flight fetch they
	// joined was discarded by a competing write and no cached value exists.
	ErrCanceled = errors.New("querycache: fetch canceled")

	ErrProviderRejected = errors.New("querycache: provider rejected write")
	ErrClosed           = errors.New("querycache: client closed")
)

// FetchError is stored on an entry whose last fetch failed.
type FetchError struct {
	Key Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError is returned by Mutate after rollback and settlement ran.
type MutationError struct {
	Key         Key
	Err         error
	RollbackErr error // non-nil if restoring the previous value failed too
}

func (e *MutationError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("mutate %s: %v (rollback failed: %v)", e.Key, e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("mutate %s: %v", e.Key, e.Err)
}

func (e *MutationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}

// InvalidateError reports backend failures while invalidating or removing.
type InvalidateError struct {
	Key     Key
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %s: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %s: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %s: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %s: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
