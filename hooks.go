package querycache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; several are called with
// the store lock held. Keys are passed in canonical form (Key.String()).
type Hooks interface {
	// A fetch finished but its result was dropped.
	// reason ∈ {"canceled", "superseded", "removed", "closed"}
	FetchDiscarded(key, reason string)

	// A fetch failed; the entry keeps its last good data.
	FetchFailed(key string, err error)

	// A failed mutation restored the pre-mutation value.
	MutationRolledBack(key string, err error)

	// Invalidate marked matched entries stale and scheduled refetches.
	Invalidated(prefix string, matched, refetches int)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// Entry data was dropped on read.
	// reason ∈ {"evicted", "corrupt", "version_mismatch"}
	SelfHeal(storageKey, reason string)

	// GenStore errors.
	GenSnapshotError(storageKey string, err error)
	GenBumpError(storageKey string, err error)

	// The cleanup loop dropped n unobserved entries.
	EntriesCollected(n int)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) FetchDiscarded(string, string)    {}
func (NopHooks) FetchFailed(string, error)        {}
func (NopHooks) MutationRolledBack(string, error) {}
func (NopHooks) Invalidated(string, int, int)     {}
func (NopHooks) ProviderSetRejected(string)       {}
func (NopHooks) SelfHeal(string, string)          {}
func (NopHooks) GenSnapshotError(string, error)   {}
func (NopHooks) GenBumpError(string, error)       {}
func (NopHooks) EntriesCollected(int)             {}
