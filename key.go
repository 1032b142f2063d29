package deskquery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/unkn0wn-root/deskquery/codec"
)

// Key identifies one logical query: an ordered list of primitive values,
// maps, slices or JSON-tagged structs, e.g. Key{"tickets", map[string]string{"status": "open"}}.
// Two keys are equal iff their deterministic CBOR encodings are equal, so map
// ordering and the concrete map type do not matter.
type Key []any

// Any matches exactly one element at its position in an Invalidate or Remove
// pattern. It is rejected in query keys.
var Any any = wildcard{}

type wildcard struct{}

func (wildcard) MarshalJSON() ([]byte, error) { return []byte(`"*"`), nil }

// String renders k as JSON for logs and hooks.
func (k Key) String() string {
	b, err := json.Marshal([]any(k))
	if err != nil {
		return fmt.Sprint([]any(k))
	}
	return string(b)
}

// encodedKey is the canonical form of a Key.
type encodedKey struct {
	id    string   // concatenated element encodings; CBOR items are self-delimiting
	parts []string // per-element encodings
	text  string
}

type keyEncoder struct{ em cbor.EncMode }

func newKeyEncoder() (keyEncoder, error) {
	em, err := codec.EncMode(true)
	if err != nil {
		return keyEncoder{}, err
	}
	return keyEncoder{em: em}, nil
}

func (ke keyEncoder) encode(k Key) (encodedKey, error) {
	if len(k) == 0 {
		return encodedKey{}, ErrEmptyKey
	}
	parts := make([]string, len(k))
	var id strings.Builder
	for i, el := range k {
		if _, ok := el.(wildcard); ok {
			return encodedKey{}, fmt.Errorf("deskquery: wildcard at position %d of query key %s", i, k)
		}
		b, err := ke.em.Marshal(el)
		if err != nil {
			return encodedKey{}, fmt.Errorf("deskquery: key element %d: %w", i, err)
		}
		parts[i] = string(b)
		id.Write(b)
	}
	return encodedKey{id: id.String(), parts: parts, text: k.String()}, nil
}

// pattern is a prefix of a key where some elements may be Any.
// An empty pattern matches every key.
type pattern struct {
	parts []string
	wild  []bool
	text  string
}

func (ke keyEncoder) pattern(p Key) (pattern, error) {
	pat := pattern{parts: make([]string, len(p)), wild: make([]bool, len(p)), text: p.String()}
	for i, el := range p {
		if _, ok := el.(wildcard); ok {
			pat.wild[i] = true
			continue
		}
		b, err := ke.em.Marshal(el)
		if err != nil {
			return pattern{}, fmt.Errorf("deskquery: pattern element %d: %w", i, err)
		}
		pat.parts[i] = string(b)
	}
	return pat, nil
}

func (p pattern) match(k encodedKey) bool {
	if len(k.parts) < len(p.parts) {
		return false
	}
	for i, part := range p.parts {
		if !p.wild[i] && k.parts[i] != part {
			return false
		}
	}
	return true
}

// root returns the encoded first element, or ok=false when the pattern spans
// every root (empty or wildcard first element).
func (p pattern) root() (string, bool) {
	if len(p.parts) == 0 || p.wild[0] {
		return "", false
	}
	return p.parts[0], true
}
