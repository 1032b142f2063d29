package util

import (
	"strings"
	"testing"
)

func TestStorageKeyDeterministicAndDistinct(t *testing.T) {
	a := StorageKey("entry:crm", []byte("a"))
	if a != StorageKey("entry:crm", []byte("a")) {
		t.Fatalf("StorageKey not deterministic")
	}
	if a == StorageKey("entry:crm", []byte("b")) {
		t.Fatalf("distinct ids collided")
	}
	if !strings.HasPrefix(a, "entry:crm:") || len(a) != len("entry:crm:")+32 {
		t.Fatalf("unexpected shape %q", a)
	}
}
