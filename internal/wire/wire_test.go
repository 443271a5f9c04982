package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func mustDecode(t *testing.T, b []byte) (uint64, []byte) {
	t.Helper()
	v, p, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return v, p
}

func TestEmptyAndNonEmpty(t *testing.T) {
	cases := []struct {
		version uint64
		payload []byte
	}{
		{0, nil},
		{42, []byte("hello")},
		{math.MaxUint64, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		v, p := mustDecode(t, Encode(tc.version, tc.payload))
		if v != tc.version {
			t.Fatalf("version mismatch: got %d want %d", v, tc.version)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", p, tc.payload)
		}
	}
}

func TestRejectsTrailingBytes(t *testing.T) {
	enc := Encode(7, []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, _, err := Decode(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestCorruptHeadersAndLengths(t *testing.T) {
	enc := Encode(1, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, _, err := Decode(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = formatVersion + 1
	if _, _, err := Decode(badVer); err == nil {
		t.Fatalf("expected error on bad format version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindData + 1
	if _, _, err := Decode(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// vlen announces more than available
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[14:18], uint32(len("abc")+1))
	if _, _, err := Decode(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	if _, _, err := Decode(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
	if _, _, err := Decode(enc[:5]); err == nil {
		t.Fatalf("expected error on truncated header")
	}
	if _, _, err := Decode([]byte("not-wire-format")); err == nil {
		t.Fatalf("expected error on foreign bytes")
	}
}

func TestEncodeDoesNotAliasPayload(t *testing.T) {
	payload := []byte("Z")
	enc := Encode(1, payload)
	payload[0] = 'Q'
	_, p := mustDecode(t, enc)
	if p[0] != 'Z' {
		t.Fatalf("frame aliased caller payload")
	}
}
