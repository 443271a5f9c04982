// Package key implements hierarchical cache keys.
//
// A Key is an ordered tuple of primitive values such as ["todos"] or
// ["todos", 5]. Keys form a prefix hierarchy: ["todos", 5] lies below
// ["todos"], and operations addressed at ["todos"] (invalidate, cancel,
// remove) reach it too. The empty key is the root of every hierarchy.
//
// Numbers compare by value, so int(5), int64(5) and float64(5) name the
// same segment.
package key

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

var ErrInvalidPart = errors.New("key: invalid part")

// Key is immutable; the zero value is the root key.
type Key struct {
	segs []string
}

// New builds a key from primitive parts: strings, bools, integers,
// finite floats and nil (named types over those kinds are accepted).
func New(parts ...any) (Key, error) {
	segs := make([]string, len(parts))
	for i, p := range parts {
		s, err := segment(p)
		if err != nil {
			return Key{}, fmt.Errorf("%w at %d: %v", ErrInvalidPart, i, err)
		}
		segs[i] = s
	}
	return Key{segs: segs}, nil
}

// Of is like New but panics on an invalid part.
// Handy for literal keys.
func Of(parts ...any) Key {
	k, err := New(parts...)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) Len() int     { return len(k.segs) }
func (k Key) IsRoot() bool { return len(k.segs) == 0 }

// String returns the canonical form, e.g. ["todos",5].
// Two keys are equal iff their canonical forms are equal.
func (k Key) String() string {
	return "[" + strings.Join(k.segs, ",") + "]"
}

func (k Key) Equal(o Key) bool {
	if len(k.segs) != len(o.segs) {
		return false
	}
	for i := range k.segs {
		if k.segs[i] != o.segs[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p is k itself or one of its ancestors.
func (k Key) HasPrefix(p Key) bool {
	if len(p.segs) > len(k.segs) {
		return false
	}
	for i := range p.segs {
		if k.segs[i] != p.segs[i] {
			return false
		}
	}
	return true
}

// Child returns k extended by parts.
func (k Key) Child(parts ...any) (Key, error) {
	tail, err := New(parts...)
	if err != nil {
		return Key{}, err
	}
	segs := make([]string, 0, len(k.segs)+len(tail.segs))
	segs = append(segs, k.segs...)
	segs = append(segs, tail.segs...)
	return Key{segs: segs}, nil
}

// Parent returns the key one level up; the root is its own parent.
func (k Key) Parent() Key {
	if len(k.segs) == 0 {
		return k
	}
	return Key{segs: k.segs[:len(k.segs)-1 : len(k.segs)-1]}
}

func segment(p any) (string, error) {
	if p == nil {
		return "null", nil
	}
	v := reflect.ValueOf(p)
	switch v.Kind() {
	case reflect.String:
		return strconv.Quote(v.String()), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return number(v.Float())
	default:
		return "", fmt.Errorf("unsupported type %T", p)
	}
}

// number renders integral floats the same way as integers.
func number(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}
