package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type todo struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	Done    bool      `json:"done"`
	Created time.Time `json:"created"`
}

func sample() []todo {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []todo{
		{ID: "1", Text: "a", Created: ts},
		{ID: "2", Text: "b", Done: true, Created: ts.Add(time.Hour)},
	}
}

func TestCodecsPreserveValues(t *testing.T) {
	codecs := map[string]Codec[[]todo]{
		"json":         JSON[[]todo]{},
		"msgpack":      Msgpack[[]todo]{},
		"msgpack-json": Msgpack[[]todo]{JSONTags: true},
		"cbor":         MustCBOR[[]todo](false),
		"cbor-det":     MustCBOR[[]todo](true),
		"limit":        Limit[[]todo]{Inner: JSON[[]todo]{}, MaxEncode: 1 << 10, MaxDecode: 1 << 10},
	}
	for name, cd := range codecs {
		t.Run(name, func(t *testing.T) {
			b, err := cd.Encode(sample())
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := cd.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(sample(), got); diff != "" {
				t.Fatalf("value changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMsgpackJSONTagsUseJSONNames(t *testing.T) {
	b, err := Msgpack[todo]{JSONTags: true}.Encode(todo{ID: "7"})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(b, []byte("id")) || bytes.Contains(b, []byte("ID")) {
		t.Fatalf("expected json field names in payload, got %q", b)
	}
}

func TestCBORDeterministic(t *testing.T) {
	cd := MustCBOR[map[string]int](true)
	m := map[string]int{"z": 1, "a": 2, "m": 3}
	first, err := cd.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		b, _ := cd.Encode(m)
		if !bytes.Equal(first, b) {
			t.Fatalf("deterministic CBOR produced different bytes")
		}
	}
}

func TestProtobuf(t *testing.T) {
	cd := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := cd.Encode(wrapperspb.String("buy milk"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := cd.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.GetValue() != "buy milk" {
		t.Fatalf("got %q", got.GetValue())
	}
}

func TestLimit(t *testing.T) {
	cd := Limit[string]{Inner: String{}, MaxEncode: 4, MaxDecode: 3}
	if _, err := cd.Encode("12345"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Encode over limit: %v", err)
	}
	if _, err := cd.Decode([]byte("1234")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Decode over limit: %v", err)
	}
	if s, err := cd.Decode([]byte("123")); err != nil || s != "123" {
		t.Fatalf("Decode at limit: %q %v", s, err)
	}

	unbounded := Limit[string]{Inner: String{}}
	if _, err := unbounded.Decode(bytes.Repeat([]byte("x"), 1<<16)); err != nil {
		t.Fatalf("zero limit should not bound: %v", err)
	}
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	got, _ := Bytes{}.Decode(src)
	got[0] = 'X'
	if src[0] != 'a' {
		t.Fatalf("Decode aliased its input")
	}
}

func TestFuncs(t *testing.T) {
	cd := Funcs[int]{
		EncodeFunc: func(v int) ([]byte, error) { return []byte{byte(v)}, nil },
		DecodeFunc: func(b []byte) (int, error) { return int(b[0]), nil },
	}
	b, _ := cd.Encode(9)
	if v, _ := cd.Decode(b); v != 9 {
		t.Fatalf("got %d", v)
	}
}
