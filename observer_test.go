package querycache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/querycache/codec"
)

func hasData[V any](v View[V]) bool { return v.HasData && v.Status == Success }

func TestQueryFetchesOnAttach(t *testing.T) {
	ctx := testCtx(t)
	c, _ := newTestClient(t, Options{})
	q := NewCache[string](c, codec.String{})

	var calls counter
	o := q.Query(ctx, K("todos"), func(context.Context) (string, error) {
		calls.inc()
		return "server", nil
	})
	defer o.Close()

	v, err := o.Await(ctx, hasData[string])
	if err != nil {
		t.Fatal(err)
	}
	if v.Data != "server" || v.IsPreviousData {
		t.Fatalf("view = %+v", v)
	}
	if calls.get() != 1 {
		t.Fatalf("calls=%d", calls.get())
	}
}

func TestQueryRespectsStaleTime(t *testing.T) {
	ctx := testCtx(t)
	c, _ := newTestClient(t, Options{StaleTime: time.Hour})
	q := NewCache[string](c, codec.String{})
	k := K("todos")
	_ = q.Set(ctx, k, "cached")

	var calls counter
	f := func(context.Context) (string, error) {
		calls.inc()
		return "server", nil
	}

	fresh := q.Query(ctx, k, f)
	defer fresh.Close()
	if v := fresh.View(); v.Data != "cached" || v.Status != Success {
		t.Fatalf("view = %+v", v)
	}
	if calls.get() != 0 {
		t.Fatalf("fresh data refetched")
	}

	eager := q.Query(ctx, k, f, WithStaleTime(0))
	defer eager.Close()
	if _, err := eager.Await(ctx, func(v View[string]) bool { return v.Data == "server" && v.Status == Success }); err != nil {
		t.Fatal(err)
	}
	if calls.get() != 1 {
		t.Fatalf("calls=%d want 1", calls.get())
	}
}

func TestQueryDisabled(t *testing.T) {
	ctx := testCtx(t)
	c, _ := newTestClient(t, Options{})
	q := NewCache[string](c, codec.String{})

	var calls counter
	o := q.Query(ctx, K("todos", 0), func(context.Context) (string, error) {
		calls.inc()
		return "item", nil
	}, WithEnabled(false))
	defer o.Close()

	v := o.View()
	if v.Status != Idle || v.HasData {
		t.Fatalf("disabled view = %+v", v)
	}
	time.Sleep(20 * time.Millisecond)
	if calls.get() != 0 {
		t.Fatalf("disabled observer fetched")
	}

	o.SetEnabled(true)
	if _, err := o.Await(ctx, hasData[string]); err != nil {
		t.Fatal(err)
	}
	if calls.get() != 1 {
		t.Fatalf("calls=%d want 1", calls.get())
	}
}

func TestInvalidateRefetchesObserved(t *testing.T) {
	ctx := testCtx(t)
	c, h := newTestClient(t, Options{StaleTime: -1})
	q := NewCache[string](c, codec.String{})

	var calls counter
	o := q.Query(ctx, K("todos", 5), func(context.Context) (string, error) {
		calls.inc()
		return "item", nil
	})
	defer o.Close()
	if _, err := o.Await(ctx, hasData[string]); err != nil {
		t.Fatal(err)
	}

	n, err := c.Invalidate(ctx, K("todos"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("refetches=%d want 1", n)
	}
	if _, err := o.Await(ctx, func(v View[string]) bool { return hasData(v) && !v.Stale }); err != nil {
		t.Fatal(err)
	}
	if calls.get() != 2 {
		t.Fatalf("calls=%d want 2", calls.get())
	}
	if len(h.list(func(h *recHooks) []string { return h.invalidations })) != 1 {
		t.Fatalf("Invalidated hook not called once")
	}
}

func TestKeepPreviousData(t *testing.T) {
	ctx := testCtx(t)
	c, _ := newTestClient(t, Options{})
	q := NewCache[todo](c, nil)

	o := q.Query(ctx, K("todos", 1), func(context.Context) (todo, error) {
		return todo{ID: 1, Text: "a"}, nil
	}, WithKeepPreviousData())
	defer o.Close()
	if _, err := o.Await(ctx, hasData[todo]); err != nil {
		t.Fatal(err)
	}

	var calls counter
	release := make(chan struct{})
	o.SetKey(K("todos", 2), gatedFetch(todo{ID: 2, Text: "b"}, nil, release, &calls))

	v := o.View()
	if !v.IsPreviousData || v.Data.ID != 1 || v.Status != Fetching {
		t.Fatalf("view while switching = %+v", v)
	}

	close(release)
	v, err := o.Await(ctx, func(v View[todo]) bool { return hasData(v) && !v.IsPreviousData })
	if err != nil {
		t.Fatal(err)
	}
	if v.Data.ID != 2 || !v.Key.Equal(K("todos", 2)) {
		t.Fatalf("view after switch = %+v", v)
	}
}

func TestSetKeyWithoutKeepPreviousClears(t *testing.T) {
	ctx := testCtx(t)
	c, _ := newTestClient(t, Options{})
	q := NewCache[todo](c, nil)

	o := q.Query(ctx, K("todos", 1), func(context.Context) (todo, error) {
		return todo{ID: 1}, nil
	})
	defer o.Close()
	if _, err := o.Await(ctx, hasData[todo]); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	defer close(release)
	var calls counter
	o.SetKey(K("todos", 2), gatedFetch(todo{ID: 2}, nil, release, &calls))
	if v := o.View(); v.HasData || v.IsPreviousData {
		t.Fatalf("view = %+v", v)
	}
}

func TestObserverCloseDetaches(t *testing.T) {
	ctx := testCtx(t)
	c, _ := newTestClient(t, Options{})
	q := NewCache[string](c, codec.String{})
	k := K("todos")

	octx, cancel := context.WithCancel(ctx)
	o := q.Query(octx, k, nil)
	if e, _, _ := c.Entry(ctx, k); e.Subscribers != 1 {
		t.Fatalf("subscribers=%d", e.Subscribers)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for {
		e, _, _ := c.Entry(ctx, k)
		if e.Subscribers == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("observer still attached after its context ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
	o.Close() // idempotent

	if _, err := o.Await(ctx, func(View[string]) bool { return false }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Await on closed observer = %v", err)
	}
}

func TestChangedSignalsWrites(t *testing.T) {
	ctx := testCtx(t)
	c, _ := newTestClient(t, Options{})
	q := NewCache[string](c, codec.String{})
	k := K("todos")

	o := q.Query(ctx, k, nil)
	defer o.Close()

	ch := o.Changed()
	_ = q.Set(ctx, k, "v")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("no change signal after Set")
	}
	if v := o.View(); v.Data != "v" {
		t.Fatalf("view = %+v", v)
	}
}
