// Package wire frames entry data before it is handed to a provider.
//
//	magic(4) | ver(1) | kind(1) | version(u64 be) | vlen(u32 be) | payload(vlen)
//
// The version is the store's per-entry write counter. A frame whose version
// does not match the entry's metadata was written by someone else (an older
// write, a foreign process on a shared provider) and is treated as missing.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	formatVersion byte = 1
	kindData      byte = 1

	headerLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("querycache: corrupt entry")
	magic4     = [...]byte{'Q', 'C', 'E', 'N'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func Encode(version uint64, payload []byte) []byte {
	buf := make([]byte, headerLen, headerLen+len(payload))
	copy(buf, magic4[:])
	buf[4] = formatVersion
	buf[5] = kindData
	binary.BigEndian.PutUint64(buf[6:14], version)
	binary.BigEndian.PutUint32(buf[14:18], uint32(len(payload)))
	return append(buf, payload...)
}

// Decode validates the frame and returns a payload slice aliasing b.
func Decode(b []byte) (version uint64, payload []byte, err error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != formatVersion || b[5] != kindData {
		return 0, nil, ErrCorrupt
	}
	version = binary.BigEndian.Uint64(b[6:14])
	vlen := binary.BigEndian.Uint32(b[14:18])
	if uint64(vlen) != uint64(len(b)-headerLen) { // strict: no short or trailing bytes
		return 0, nil, ErrCorrupt
	}
	return version, b[headerLen:], nil
}
