// Package sqlite is a durable, single-file Provider on zombiezen.com/go/sqlite.
// The CLI keeps the auth session here so it survives restarts.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	pr "github.com/unkn0wn-root/deskquery/provider"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
) WITHOUT ROWID;
`

type Config struct {
	Path     string // database file; required
	PoolSize int    // 0 => 2
	Now      func() time.Time
}

type Provider struct {
	pool *sqlitex.Pool
	now  func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

func Open(cfg Config) (*Provider, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite provider: Path is required")
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 2
	}
	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepare,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite provider: opening %s: %w", cfg.Path, err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{pool: pool, now: now}, nil
}

func prepare(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite provider: %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer p.pool.Put(conn)

	var (
		value []byte
		found bool
	)
	err = sqlitex.Execute(conn,
		"SELECT value FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)",
		&sqlitex.ExecOptions{
			Args: []any{key, p.now().UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, value)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer p.pool.Put(conn)

	var exp int64
	if ttl > 0 {
		exp = p.now().Add(ttl).UnixNano()
	}
	if value == nil {
		value = []byte{}
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		&sqlitex.ExecOptions{Args: []any{key, value, exp}})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer p.pool.Put(conn)
	return sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?", &sqlitex.ExecOptions{Args: []any{key}})
}

// Sweep deletes expired rows and reports how many were removed.
func (p *Provider) Sweep(ctx context.Context) (int, error) {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer p.pool.Put(conn)
	err = sqlitex.Execute(conn,
		"DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?",
		&sqlitex.ExecOptions{Args: []any{p.now().UnixNano()}})
	if err != nil {
		return 0, err
	}
	return conn.Changes(), nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.pool.Close()
}
