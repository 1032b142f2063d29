package memory

import (
	"context"
	"testing"
	"time"
)

func TestTTLExpiryAndCopySemantics(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	p := New(func() time.Time { return now })

	val := []byte("v1")
	if ok, err := p.Set(ctx, "k", val, 1, time.Minute); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	val[0] = 'X' // caller mutation must not leak into the store

	got, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Get: got=%q ok=%v err=%v", got, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected expiry after ttl")
	}
	if p.Len() != 0 {
		t.Fatalf("expired key should be dropped on read")
	}

	if _, err := p.Set(ctx, "forever", []byte("x"), 1, 0); err != nil {
		t.Fatal(err)
	}
	now = now.Add(365 * 24 * time.Hour)
	if _, ok, _ := p.Get(ctx, "forever"); !ok {
		t.Fatalf("ttl=0 must not expire")
	}
	if err := p.Del(ctx, "forever"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := p.Get(ctx, "forever"); ok {
		t.Fatalf("Del did not remove key")
	}
}
