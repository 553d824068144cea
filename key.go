package querykit

import (
	"fmt"
	"strings"

	"github.com/bountydotnew/querykit/internal/util"
)

const keySep = ":"

// Key is an ordered list of segments. A key is a prefix of another when its
// segments match the leading segments of the other.
type Key []string

// NoInput is the input type of operations that take none. It adds no digest
// segment to derived keys.
type NoInput = struct{}

// KeyOf derives the cache key of an operation call. The dotted operation name
// becomes the leading segments; a non-nil input adds a digest segment computed
// over its canonical encoding, so equal inputs always map to the same key.
func KeyOf(operation string, input any) (Key, error) {
	k := Key(strings.Split(operation, "."))
	if err := k.validate(); err != nil {
		return nil, err
	}
	switch input.(type) {
	case nil, NoInput, *NoInput:
		return k, nil
	}
	d, err := util.Digest(input)
	if err != nil {
		return nil, fmt.Errorf("querykit: digest input of %s: %w", operation, err)
	}
	return append(k, d), nil
}

// NewKey builds a key from raw segments.
func NewKey(segs ...string) (Key, error) {
	k := Key(append([]string(nil), segs...))
	if err := k.validate(); err != nil {
		return nil, err
	}
	return k, nil
}

// MustKey is like NewKey but panics on error. Meant for package-level prefixes.
func MustKey(segs ...string) Key {
	k, err := NewKey(segs...)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) String() string { return strings.Join(k, keySep) }

// HasPrefix reports whether p is a segment-wise prefix of k.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if k[i] != p[i] {
			return false
		}
	}
	return true
}

func (k Key) validate() error {
	if len(k) == 0 {
		return fmt.Errorf("%w: no segments", ErrInvalidKey)
	}
	for i, s := range k {
		if s == "" {
			return fmt.Errorf("%w: empty segment %d in %q", ErrInvalidKey, i, k.String())
		}
		if strings.Contains(s, keySep) {
			return fmt.Errorf("%w: segment %q contains %q", ErrInvalidKey, s, keySep)
		}
	}
	return nil
}

// prefixes returns the generation-store names of every prefix of k, shortest first.
func (k Key) prefixes() []string { return util.Prefixes(k, keySep) }
