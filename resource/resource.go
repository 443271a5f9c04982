// Package resource binds querycache to a backend exposing one collection and
// its items, e.g. a todo list.
//
// The collection lives under [name] and each item under [name, id], so
// invalidating the collection reaches every item too.
package resource

import (
	"context"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/codec"
)

// API is the backend. The engine treats every call as an opaque operation.
type API[T any, ID comparable] interface {
	GetAll(ctx context.Context) ([]T, error)
	GetOne(ctx context.Context, id ID) (T, error)
	Add(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, item T) (T, error)
	Remove(ctx context.Context, id ID) error
}

type Options[T any] struct {
	ListCodec codec.Codec[[]T] // nil => JSON
	ItemCodec codec.Codec[T]   // nil => JSON

	// Extra options for List and Item observers.
	Query []querycache.QueryOption
}

type Resource[T any, ID comparable] struct {
	name string
	api  API[T, ID]
	idOf func(T) ID
	opts []querycache.QueryOption

	list *querycache.Cache[[]T]
	item *querycache.Cache[T]
}

// New binds api to c under name. ID must be a type querycache keys accept
// (string, bool or a number kind).
func New[T any, ID comparable](c *querycache.Client, name string, api API[T, ID], idOf func(T) ID, opts Options[T]) *Resource[T, ID] {
	return &Resource[T, ID]{
		name: name,
		api:  api,
		idOf: idOf,
		opts: opts.Query,
		list: querycache.NewCache(c, opts.ListCodec),
		item: querycache.NewCache(c, opts.ItemCodec),
	}
}

func (r *Resource[T, ID]) ListKey() querycache.Key { return querycache.K(r.name) }

func (r *Resource[T, ID]) ItemKey(id ID) querycache.Key { return querycache.K(r.name, id) }

func (r *Resource[T, ID]) ListCache() *querycache.Cache[[]T] { return r.list }
func (r *Resource[T, ID]) ItemCache() *querycache.Cache[T]   { return r.item }

// List observes the whole collection.
func (r *Resource[T, ID]) List(ctx context.Context) *querycache.Observer[[]T] {
	opts := append([]querycache.QueryOption{querycache.WithKeepPreviousData()}, r.opts...)
	return r.list.Query(ctx, r.ListKey(), r.api.GetAll, opts...)
}

// Item observes one item. Nothing is fetched while id is the zero value.
func (r *Resource[T, ID]) Item(ctx context.Context, id ID) *querycache.Observer[T] {
	var zero ID
	opts := append([]querycache.QueryOption{
		querycache.WithKeepPreviousData(),
		querycache.WithEnabled(id != zero),
	}, r.opts...)
	return r.item.Query(ctx, r.ItemKey(id), r.fetchOne(id), opts...)
}

// SelectItem points an Item observer at id.
func (r *Resource[T, ID]) SelectItem(o *querycache.Observer[T], id ID) {
	var zero ID
	if id == zero {
		o.SetEnabled(false)
		o.SetKey(r.ItemKey(id), r.fetchOne(id))
		return
	}
	o.SetKey(r.ItemKey(id), r.fetchOne(id))
	o.SetEnabled(true)
}

func (r *Resource[T, ID]) fetchOne(id ID) querycache.FetchFunc[T] {
	return func(ctx context.Context) (T, error) { return r.api.GetOne(ctx, id) }
}

// AddMutation appends the new item to the cached collection before the
// backend answers and refreshes the collection afterwards.
func (r *Resource[T, ID]) AddMutation() *querycache.Mutation[[]T, T, T] {
	return &querycache.Mutation[[]T, T, T]{
		Cache: r.list,
		Key:   func(T) querycache.Key { return r.ListKey() },
		Fn:    r.api.Add,
		Optimistic: func(prev []T, _ bool, item T) []T {
			next := make([]T, 0, len(prev)+1)
			next = append(next, prev...)
			return append(next, item)
		},
	}
}

// UpdateMutation replaces the cached item right away and refreshes it
// afterwards. The item's own id addresses every step.
func (r *Resource[T, ID]) UpdateMutation() *querycache.Mutation[T, T, T] {
	return &querycache.Mutation[T, T, T]{
		Cache:      r.item,
		Key:        func(item T) querycache.Key { return r.ItemKey(r.idOf(item)) },
		Fn:         r.api.Update,
		Optimistic: func(_ T, _ bool, item T) T { return item },
	}
}

// RemoveMutation deletes on the backend and, once that succeeded, refreshes
// the collection. Nothing is written optimistically.
func (r *Resource[T, ID]) RemoveMutation() *querycache.Mutation[[]T, ID, struct{}] {
	return &querycache.Mutation[[]T, ID, struct{}]{
		Cache: r.list,
		Key:   func(ID) querycache.Key { return r.ListKey() },
		Fn: func(ctx context.Context, id ID) (struct{}, error) {
			return struct{}{}, r.api.Remove(ctx, id)
		},
		Invalidate: func(_ ID, res querycache.Result[[]T, struct{}]) []querycache.Key {
			if !res.OK() {
				return nil
			}
			return []querycache.Key{r.ListKey()}
		},
	}
}
