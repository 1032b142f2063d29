package bigcache

import (
	"context"
	"testing"
	"time"
)

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{LifeWindow: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	if _, ok, err := p.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("miss expected: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "entry:crm:1", []byte("payload"), 1, 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "entry:crm:1")
	if err != nil || !ok || string(got) != "payload" {
		t.Fatalf("Get: got=%q ok=%v err=%v", got, ok, err)
	}
	if err := p.Del(ctx, "entry:crm:1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := p.Del(ctx, "entry:crm:1"); err != nil {
		t.Fatalf("Del of missing key must be a no-op: %v", err)
	}
}

func TestRequiresLifeWindow(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero LifeWindow")
	}
}
