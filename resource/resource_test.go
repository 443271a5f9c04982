package resource

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/querycache"
)

type todo struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

var errNotFound = errors.New("not found")

type fakeAPI struct {
	mu      sync.Mutex
	items   map[string]todo
	fail    error
	getAlls int
	gate    chan struct{} // when set, Add waits on it
}

func newFake(items ...todo) *fakeAPI {
	f := &fakeAPI{items: map[string]todo{}}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func (f *fakeAPI) GetAll(context.Context) ([]todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getAlls++
	out := make([]todo, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAPI) GetOne(_ context.Context, id string) (todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return todo{}, errNotFound
	}
	return it, nil
}

func (f *fakeAPI) Add(_ context.Context, t todo) (todo, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return todo{}, f.fail
	}
	f.items[t.ID] = t
	return t, nil
}

func (f *fakeAPI) Update(_ context.Context, t todo) (todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return todo{}, f.fail
	}
	if _, ok := f.items[t.ID]; !ok {
		return todo{}, errNotFound
	}
	f.items[t.ID] = t
	return t, nil
}

func (f *fakeAPI) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	delete(f.items, id)
	return nil
}

func (f *fakeAPI) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func setup(t *testing.T, api *fakeAPI) (*Resource[todo, string], context.Context) {
	t.Helper()
	c, err := querycache.New(querycache.Options{StaleTime: -1, CleanupInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(func() {
		cancel()
		_ = c.Close(context.Background())
	})
	return New[todo, string](c, "todos", api, func(t todo) string { return t.ID }, Options[todo]{}), ctx
}

func settled[V any](v querycache.View[V]) bool {
	return v.HasData && v.Status == querycache.Success && !v.Stale
}

func TestListAndItem(t *testing.T) {
	api := newFake(todo{ID: "1", Text: "a"}, todo{ID: "2", Text: "b"})
	r, ctx := setup(t, api)

	list := r.List(ctx)
	defer list.Close()
	v, err := list.Await(ctx, settled[[]todo])
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Data) != 2 {
		t.Fatalf("list = %+v", v.Data)
	}

	item := r.Item(ctx, "")
	defer item.Close()
	if v := item.View(); v.Status != querycache.Idle || v.HasData {
		t.Fatalf("item without id = %+v", v)
	}

	r.SelectItem(item, "2")
	iv, err := item.Await(ctx, settled[todo])
	if err != nil {
		t.Fatal(err)
	}
	if iv.Data.Text != "b" {
		t.Fatalf("item = %+v", iv.Data)
	}

	r.SelectItem(item, "1")
	if v := item.View(); !v.IsPreviousData || v.Data.ID != "2" {
		if !(v.HasData && v.Data.ID == "1") {
			t.Fatalf("item while switching = %+v", v)
		}
	}
	iv, err = item.Await(ctx, func(v querycache.View[todo]) bool { return settled(v) && !v.IsPreviousData })
	if err != nil {
		t.Fatal(err)
	}
	if iv.Data.ID != "1" {
		t.Fatalf("item = %+v", iv.Data)
	}
}

func TestAddOptimisticThenConfirmed(t *testing.T) {
	api := newFake(todo{ID: "1", Text: "a"})
	api.gate = make(chan struct{})
	r, ctx := setup(t, api)

	list := r.List(ctx)
	defer list.Close()
	if _, err := list.Await(ctx, settled[[]todo]); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.AddMutation().Mutate(ctx, todo{ID: "2", Text: "b"})
		done <- err
	}()

	// visible before the backend answers
	v, err := list.Await(ctx, func(v querycache.View[[]todo]) bool { return len(v.Data) == 2 })
	if err != nil {
		t.Fatal(err)
	}
	if v.Data[1].Text != "b" {
		t.Fatalf("optimistic list = %+v", v.Data)
	}

	close(api.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	v, err = list.Await(ctx, settled[[]todo])
	if err != nil {
		t.Fatal(err)
	}
	want := []todo{{ID: "1", Text: "a"}, {ID: "2", Text: "b"}}
	if diff := cmp.Diff(want, v.Data); diff != "" {
		t.Fatalf("list after settle (-want +got):\n%s", diff)
	}
}

func TestAddRejectedRollsBack(t *testing.T) {
	api := newFake(todo{ID: "1", Text: "a"})
	r, ctx := setup(t, api)

	list := r.List(ctx)
	defer list.Close()
	if _, err := list.Await(ctx, settled[[]todo]); err != nil {
		t.Fatal(err)
	}

	api.setFail(errors.New("rejected"))
	if _, err := r.AddMutation().Mutate(ctx, todo{ID: "2", Text: "b"}); err == nil {
		t.Fatalf("expected error")
	}
	v, err := list.Await(ctx, settled[[]todo])
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]todo{{ID: "1", Text: "a"}}, v.Data); diff != "" {
		t.Fatalf("list after rollback (-want +got):\n%s", diff)
	}
}

func TestUpdateUsesItemID(t *testing.T) {
	api := newFake(todo{ID: "1", Text: "a"})
	r, ctx := setup(t, api)

	item := r.Item(ctx, "1")
	defer item.Close()
	if _, err := item.Await(ctx, settled[todo]); err != nil {
		t.Fatal(err)
	}

	if _, err := r.UpdateMutation().Mutate(ctx, todo{ID: "1", Text: "A"}); err != nil {
		t.Fatal(err)
	}
	v, err := item.Await(ctx, func(v querycache.View[todo]) bool { return settled(v) && v.Data.Text == "A" })
	if err != nil {
		t.Fatal(err)
	}
	if !v.Key.Equal(r.ItemKey("1")) {
		t.Fatalf("key = %s", v.Key)
	}

	api.setFail(errors.New("conflict"))
	if _, err := r.UpdateMutation().Mutate(ctx, todo{ID: "1", Text: "B"}); err == nil {
		t.Fatalf("expected error")
	}
	got, _, _ := r.ItemCache().Get(ctx, r.ItemKey("1"))
	if got.Text != "A" {
		t.Fatalf("failed update not rolled back: %+v", got)
	}
}

func TestRemoveInvalidatesOnlyOnSuccess(t *testing.T) {
	api := newFake(todo{ID: "1", Text: "a"}, todo{ID: "2", Text: "b"})
	r, ctx := setup(t, api)

	list := r.List(ctx)
	defer list.Close()
	if _, err := list.Await(ctx, settled[[]todo]); err != nil {
		t.Fatal(err)
	}

	api.setFail(errors.New("locked"))
	if _, err := r.RemoveMutation().Mutate(ctx, "1"); err == nil {
		t.Fatalf("expected error")
	}
	if v := list.View(); v.Stale || v.Status != querycache.Success {
		t.Fatalf("failed remove invalidated the list: %+v", v)
	}

	api.setFail(nil)
	if _, err := r.RemoveMutation().Mutate(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	v, err := list.Await(ctx, func(v querycache.View[[]todo]) bool { return settled(v) && len(v.Data) == 1 })
	if err != nil {
		t.Fatal(err)
	}
	if v.Data[0].ID != "2" {
		t.Fatalf("list = %+v", v.Data)
	}
}
