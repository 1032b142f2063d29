// Package redis stores persisted cache entries and the session in Redis, so
// several deskq processes on one account share them.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/deskquery/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Redis struct {
	rdb    goredis.UniversalClient
	prefix string
	owned  bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Prefix is prepended to every key, e.g. "deskq:" when the database is
	// shared with other applications.
	Prefix string
	// CloseClient hands the client to the provider; Close then closes it.
	CloseClient bool
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, prefix: cfg.Prefix, owned: cfg.CloseClient}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, p.prefix+key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

// Set ignores cost. A ttl <= 0 stores the value without expiry.
func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	err := p.rdb.Set(ctx, p.prefix+key, value, max(ttl, 0)).Err()
	return err == nil, err
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, p.prefix+key).Err()
}

// Close closes the client only if CloseClient was set. The cache and the
// session usually share one client, which cmd/deskq closes last.
func (p *Redis) Close(context.Context) error {
	if !p.owned {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
