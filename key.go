package querycache

import "github.com/unkn0wn-root/querycache/key"

type Key = key.Key

// K builds a key from literal parts and panics on an unsupported part.
func K(parts ...any) Key { return key.Of(parts...) }
