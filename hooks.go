package querykit

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore errors. count is the number of prefixes involved.
	GenSnapshotError(count int, err error)
	GenBumpError(prefix string, err error)

	// A prefix was invalidated and watchers refetches were scheduled.
	Invalidated(prefix string, watchers int)

	// A scheduled refetch returned an error.
	RefetchFailed(storageKey string, err error)

	// A conditional write was dropped because the key moved after the snapshot.
	CASSkipped(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)     {}
func (NopHooks) ProviderSetRejected(string)  {}
func (NopHooks) GenSnapshotError(int, error) {}
func (NopHooks) GenBumpError(string, error)  {}
func (NopHooks) Invalidated(string, int)     {}
func (NopHooks) RefetchFailed(string, error) {}
func (NopHooks) CASSkipped(string)           {}
