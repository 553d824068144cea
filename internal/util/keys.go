package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// digestEnc encodes inputs canonically so equal inputs always hash the same,
// regardless of map iteration order.
var digestEnc cbor.EncMode

func init() {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		panic(err)
	}
	digestEnc = em
}

// Digest returns the first 16 hex chars of SHA-256 over the deterministic CBOR
// form of v.
func Digest(v any) (string, error) {
	b, err := digestEnc.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8]), nil
}

// Prefixes returns every prefix of segs joined with sep, shortest first.
// "a","b","c" -> "a", "a:b", "a:b:c".
func Prefixes(segs []string, sep string) []string {
	out := make([]string, len(segs))
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(s)
		out[i] = b.String()
	}
	return out
}
