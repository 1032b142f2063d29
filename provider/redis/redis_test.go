package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestProvider(t *testing.T, cfg Config) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	if cfg.Client == nil {
		cfg.Client = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, mr
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("err = %v, want ErrNilClient", err)
	}
}

func TestPrefixedRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, mr := newTestProvider(t, Config{Prefix: "deskq:"})

	if _, ok, err := p.Get(ctx, "auth-storage"); err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "auth-storage", []byte("frame"), 5, 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	if !mr.Exists("deskq:auth-storage") {
		t.Fatalf("key not prefixed: %v", mr.Keys())
	}
	if ttl := mr.TTL("deskq:auth-storage"); ttl != 0 {
		t.Fatalf("ttl <= 0 must store without expiry, got %v", ttl)
	}
	got, ok, err := p.Get(ctx, "auth-storage")
	if err != nil || !ok || string(got) != "frame" {
		t.Fatalf("Get: got=%q ok=%v err=%v", got, ok, err)
	}
	if err := p.Del(ctx, "auth-storage"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if mr.Exists("deskq:auth-storage") {
		t.Fatalf("Del did not remove the key")
	}
}

func TestEntryExpires(t *testing.T) {
	ctx := context.Background()
	p, mr := newTestProvider(t, Config{})

	if _, err := p.Set(ctx, "entry:desk:ab", []byte("list"), 1, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, err := p.Get(ctx, "entry:desk:ab"); err != nil || ok {
		t.Fatalf("expired entry returned: ok=%v err=%v", ok, err)
	}
}

func TestServerErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	p, mr := newTestProvider(t, Config{})
	if _, err := p.Set(ctx, "k", []byte("v"), 1, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.SetError("ERR simulated failure")

	if _, ok, err := p.Get(ctx, "k"); err == nil || ok {
		t.Fatalf("Get must surface server errors: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "k", []byte("v"), 1, 0); err == nil || ok {
		t.Fatalf("Set must surface server errors: ok=%v err=%v", ok, err)
	}
}

func TestCloseOnlyOwnedClient(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	shared, _ := New(Config{Client: client})
	if err := shared.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("shared client closed: %v", err)
	}

	owned, _ := New(Config{Client: client, CloseClient: true})
	if err := owned.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := owned.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := client.Ping(ctx).Err(); err == nil {
		t.Fatalf("owned client still open")
	}
}
