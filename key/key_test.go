package key

import (
	"errors"
	"math"
	"testing"
)

type todoID string

func TestCanonicalForm(t *testing.T) {
	cases := []struct {
		k    Key
		want string
	}{
		{Of(), "[]"},
		{Of("todos"), `["todos"]`},
		{Of("todos", 5), `["todos",5]`},
		{Of("todos", int64(5)), `["todos",5]`},
		{Of("todos", 5.0), `["todos",5]`},
		{Of("todos", 2.5), `["todos",2.5]`},
		{Of("a,b", true, nil), `["a,b",true,null]`},
		{Of(todoID("x1")), `["x1"]`},
		{Of(uint8(7)), `[7]`},
	}
	for _, tc := range cases {
		if got := tc.k.String(); got != tc.want {
			t.Fatalf("String()=%s want %s", got, tc.want)
		}
	}
}

func TestNumbersCompareByValue(t *testing.T) {
	if !Of("todos", 5).Equal(Of("todos", float32(5))) {
		t.Fatalf("int 5 and float32 5 should name the same key")
	}
	if Of("todos", 5).Equal(Of("todos", "5")) {
		t.Fatalf("number 5 and string \"5\" must differ")
	}
}

func TestHasPrefix(t *testing.T) {
	todos := Of("todos")
	item := Of("todos", 5)

	if !item.HasPrefix(todos) {
		t.Fatalf("%s should have prefix %s", item, todos)
	}
	if !todos.HasPrefix(todos) {
		t.Fatalf("a key is its own prefix")
	}
	if todos.HasPrefix(item) {
		t.Fatalf("ancestor must not have descendant as prefix")
	}
	if !item.HasPrefix(Key{}) {
		t.Fatalf("root is a prefix of everything")
	}
	if Of("todosX", 5).HasPrefix(todos) {
		t.Fatalf("prefix match is per segment, not per byte")
	}
}

func TestInvalidParts(t *testing.T) {
	bad := []any{
		[]int{1},
		struct{}{},
		math.NaN(),
		math.Inf(1),
		map[string]int{},
	}
	for _, p := range bad {
		if _, err := New("todos", p); !errors.Is(err, ErrInvalidPart) {
			t.Fatalf("New(%v): want ErrInvalidPart, got %v", p, err)
		}
	}
}

func TestOfPanicsOnInvalid(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Of should panic on invalid part")
		}
	}()
	_ = Of([]byte("x"))
}

func TestChildAndParent(t *testing.T) {
	c, err := Of("todos").Child(5)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Equal(Of("todos", 5)) {
		t.Fatalf("Child = %s", c)
	}
	if !c.Parent().Equal(Of("todos")) {
		t.Fatalf("Parent = %s", c.Parent())
	}
	if !(Key{}).Parent().IsRoot() {
		t.Fatalf("root parent should be root")
	}

	// appending to a parent must not clobber siblings sharing its backing array
	p := c.Parent()
	a, _ := p.Child("a")
	b, _ := p.Child("b")
	if a.Equal(b) {
		t.Fatalf("siblings aliased: %s %s", a, b)
	}
}
