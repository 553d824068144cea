// Package querykit is a small query cache for remote procedure results with
// optimistic writes and prefix invalidation.
//
// Components:
//   - Provider: byte store with TTL (Ristretto, BigCache, Redis, LRU).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - GenStore: one generation counter per key prefix. Local (in-process) by
//     default, Redis for multi-replica invalidation.
//
// Keys are ordered segments derived from an operation name and its input:
//
//	KeyOf("bounties.getBountyVotes", in) -> bounties:getBountyVotes:<digest>
//
// Every entry records the generations of all its prefixes at write time.
// Invalidate(prefix) bumps one generation, which marks every entry below it
// stale and schedules a refetch for each watched key under the prefix. Stale
// entries are still served (flagged) until the refetch replaces them.
//
// CAS pattern used by fetches:
//
//	obs, _ := cache.Snapshot(ctx, key) // before the remote call
//	v, _ := remote(ctx, in)
//	_, _ = cache.SetIfUnchanged(ctx, key, encode(v), obs, 0) // skipped if anything moved
package querykit
