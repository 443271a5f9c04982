// Package querycache is a client-side cache-coherence engine for fetched
// resources. It lets a consumer read cached data, write speculatively before
// the backend confirms, and reconcile on success, failure and settlement
// without showing stale or duplicated data.
//
// Components:
//   - Client: owns the entry store. Metadata (status, timestamps, observer
//     counts) lives in-process; data bytes live in a pluggable Provider.
//   - Cache[V]: typed view over a Client using a Codec[V].
//   - Observer[V]: live view of one key (Cache.Query).
//   - Mutation[V, In, Out]: optimistic write, rollback, invalidation.
//   - GenStore: generation per key. A fetch applies its result only if the
//     generation it observed at start is still current.
//
// Keys are hierarchical tuples (see package key):
//
//	todos := querycache.K("todos")
//	item  := querycache.K("todos", 5) // below todos
//
// Optimistic update pattern:
//
//	m := &querycache.Mutation[[]Todo, Todo, Todo]{
//		Cache: list,
//		Key:   func(Todo) querycache.Key { return todos },
//		Fn:    api.Add,
//		Optimistic: func(prev []Todo, _ bool, t Todo) []Todo {
//			return append(prev, t)
//		},
//	}
//	_, err := m.Mutate(ctx, Todo{Text: "b"}) // rolled back + invalidated on error
package querycache
