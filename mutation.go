package querycache

import (
	"context"
	"sync/atomic"
)

type MutationStatus uint32

const (
	MutationIdle MutationStatus = iota
	MutationPending
	MutationSucceeded
	MutationFailed
	MutationSettled
)

func (s MutationStatus) String() string {
	switch s {
	case MutationIdle:
		return "idle"
	case MutationPending:
		return "pending"
	case MutationSucceeded:
		return "succeeded"
	case MutationFailed:
		return "failed"
	case MutationSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// MutationContext lives for one Mutate call.
type MutationContext[V any] struct {
	Key         Key
	Previous    V
	HadPrevious bool
	Optimistic  V
	Applied     bool // the optimistic value was written
}

// Result is the outcome handed to every stage after execution.
type Result[V, Out any] struct {
	Output  Out
	Err     error
	Context *MutationContext[V]
}

func (r Result[V, Out]) OK() bool { return r.Err == nil }

// Mutation runs a backend write with an optional optimistic update of Key(in).
//
// Mutate runs these stages in order:
//
//	optimistic  cancel fetches under Key(in), remember the cached value, write Optimistic(prev)
//	execute     Fn
//	rollback    on failure, restore the remembered value
//	on_error    on failure, OnError
//	on_success  on success, OnSuccess
//	settle      always, invalidate Invalidate(in, res) then OnSettled
//
// A nil Invalidate means [Key(in)]; an Invalidate returning no keys
// invalidates nothing. Optimistic runs with the store locked and must not
// call back into the Client.
type Mutation[V, In, Out any] struct {
	Cache *Cache[V]
	Key   func(In) Key
	Fn    func(ctx context.Context, in In) (Out, error)

	Optimistic func(prev V, ok bool, in In) V
	Invalidate func(in In, res Result[V, Out]) []Key

	OnSuccess func(ctx context.Context, in In, res Result[V, Out])
	OnError   func(ctx context.Context, in In, res Result[V, Out])
	OnSettled func(ctx context.Context, in In, res Result[V, Out])
	OnStatus  func(MutationStatus)

	status atomic.Uint32
}

// Status reports the state of the most recent Mutate call.
func (m *Mutation[V, In, Out]) Status() MutationStatus {
	return MutationStatus(m.status.Load())
}

func (m *Mutation[V, In, Out]) setStatus(s MutationStatus) {
	m.status.Store(uint32(s))
	if m.OnStatus != nil {
		m.OnStatus(s)
	}
}

type runOn uint8

const (
	always runOn = iota
	onFailure
	onSuccess
)

type stage struct {
	name string
	on   runOn
	run  func(ctx context.Context)
}

// Mutate runs the stages for in. On failure it returns a *MutationError once
// rollback and settle are done.
func (m *Mutation[V, In, Out]) Mutate(ctx context.Context, in In) (Out, error) {
	c := m.Cache.c
	k := m.Key(in)
	mc := &MutationContext[V]{Key: k}
	res := Result[V, Out]{Context: mc}

	var (
		prevRaw     []byte
		prevHad     bool
		rollbackErr error
	)

	stages := []stage{
		{name: "optimistic", on: always, run: func(ctx context.Context) {
			if m.Optimistic == nil {
				return
			}
			if err := c.CancelQueries(ctx, k); err != nil {
				res.Err = err
				return
			}
			raw, had, err := m.Cache.swap(ctx, k, func(prev V, ok bool) (V, error) {
				mc.Previous, mc.HadPrevious = prev, ok
				mc.Optimistic = m.Optimistic(prev, ok, in)
				return mc.Optimistic, nil
			})
			if err != nil {
				res.Err = err
				return
			}
			prevRaw, prevHad = raw, had
			mc.Applied = true
		}},
		{name: "execute", on: always, run: func(ctx context.Context) {
			if res.Err == nil {
				res.Output, res.Err = m.Fn(ctx, in)
			}
			if res.Err != nil {
				m.setStatus(MutationFailed)
			} else {
				m.setStatus(MutationSucceeded)
			}
		}},
		{name: "rollback", on: onFailure, run: func(ctx context.Context) {
			if !mc.Applied {
				return
			}
			rollbackErr = c.restore(context.WithoutCancel(ctx), k, prevRaw, prevHad)
			c.hooks.MutationRolledBack(k.String(), res.Err)
			c.log.Debug("optimistic update rolled back", Fields{"key": k.String(), "err": res.Err})
		}},
		{name: "on_error", on: onFailure, run: func(ctx context.Context) {
			if m.OnError != nil {
				m.OnError(ctx, in, res)
			}
		}},
		{name: "on_success", on: onSuccess, run: func(ctx context.Context) {
			if m.OnSuccess != nil {
				m.OnSuccess(ctx, in, res)
			}
		}},
		{name: "settle", on: always, run: func(ctx context.Context) {
			ctx = context.WithoutCancel(ctx)
			keys := []Key{k}
			if m.Invalidate != nil {
				keys = m.Invalidate(in, res)
			}
			for _, ik := range keys {
				if _, err := c.Invalidate(ctx, ik); err != nil {
					c.log.Warn("settle invalidate failed", Fields{"key": ik.String(), "err": err})
				}
			}
			if m.OnSettled != nil {
				m.OnSettled(ctx, in, res)
			}
		}},
	}

	m.setStatus(MutationPending)
	for _, st := range stages {
		switch {
		case st.on == onFailure && res.Err == nil:
			continue
		case st.on == onSuccess && res.Err != nil:
			continue
		}
		st.run(ctx)
	}
	m.setStatus(MutationSettled)
	m.setStatus(MutationIdle)

	if res.Err != nil {
		var zero Out
		return zero, &MutationError{Key: k, Err: res.Err, RollbackErr: rollbackErr}
	}
	return res.Output, nil
}
