// Package codec converts cached query results to and from bytes.
//
// A Query picks one codec per value type. JSON is the default; CBOR and
// Msgpack are more compact, Protobuf serves generated message types.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
