package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestSetVisibleAfterWait(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	if ok, err := p.Set(ctx, "entry:crm:1", []byte("payload"), 7, time.Minute); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	p.Wait()
	got, ok, err := p.Get(ctx, "entry:crm:1")
	if err != nil || !ok || string(got) != "payload" {
		t.Fatalf("Get: got=%q ok=%v err=%v", got, ok, err)
	}
	_ = p.Del(ctx, "entry:crm:1")
	p.Wait()
	if _, ok, _ := p.Get(ctx, "entry:crm:1"); ok {
		t.Fatalf("Del did not remove key")
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected invalid config error")
	}
}
