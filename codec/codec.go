// Package codec converts cached and persisted values to and from bytes.
//
// The query cache uses a Codec[T] per query to write entries into its
// persistence tier; the session manager uses one for the auth blob.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
