package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/deskquery"
	"github.com/unkn0wn-root/deskquery/codec"
	"github.com/unkn0wn-root/deskquery/config"
	"github.com/unkn0wn-root/deskquery/genstore"
	asynchook "github.com/unkn0wn-root/deskquery/hooks/async"
	otelhooks "github.com/unkn0wn-root/deskquery/hooks/otel"
	logrusadapter "github.com/unkn0wn-root/deskquery/log/logrus"
	slogadapter "github.com/unkn0wn-root/deskquery/log/slog"
	zapadapter "github.com/unkn0wn-root/deskquery/log/zap"
	"github.com/unkn0wn-root/deskquery/provider"
	"github.com/unkn0wn-root/deskquery/provider/bigcache"
	"github.com/unkn0wn-root/deskquery/provider/memory"
	redisprovider "github.com/unkn0wn-root/deskquery/provider/redis"
	"github.com/unkn0wn-root/deskquery/provider/ristretto"
	"github.com/unkn0wn-root/deskquery/provider/sqlite"
	"github.com/unkn0wn-root/deskquery/resources"
	"github.com/unkn0wn-root/deskquery/session"
	"github.com/unkn0wn-root/deskquery/sloghooks"
	"github.com/unkn0wn-root/deskquery/transport"
)

const shutdownTimeout = 5 * time.Second

type app struct {
	cfg   *config.Config
	log   deskquery.Logger
	out   *printer
	cache deskquery.Cache
	sess  *session.Manager
	api   *transport.Client
	res   *resources.Resources

	rdb     goredis.UniversalClient
	hooks   *asynchook.Hooks
	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, out *printer) (*app, error) {
	a := &app{cfg: cfg, out: out}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) (err error) {
	cfg := a.cfg

	var syncLog func()
	a.log, syncLog, err = buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { syncLog(); return nil })

	if cfg.UsesRedis() {
		a.rdb = goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rdb := a.rdb
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	}

	hooks, err := a.buildHooks()
	if err != nil {
		return err
	}
	cacheOpts := deskquery.Options{
		Namespace:  cfg.Cache.Namespace,
		Logger:     a.log,
		Hooks:      hooks,
		GCDelay:    cfg.Cache.GCDelay,
		StaleTime:  cfg.Cache.StaleTime,
		PersistTTL: cfg.Cache.PersistTTL,
	}
	if cacheOpts.Store, err = a.cacheStore(); err != nil {
		return err
	}
	if cacheOpts.Store != nil && cfg.Cache.GenStore == "redis" {
		cacheOpts.GenStore = genstore.NewRedisGenStore(a.rdb, cfg.Cache.Namespace, 2*cfg.Cache.PersistTTL)
	}
	if a.cache, err = deskquery.New(cacheOpts); err != nil {
		return err
	}

	sessStore, err := a.sessionStore()
	if err != nil {
		return err
	}
	var sessCodec codec.Codec[session.State] = codec.JSON[session.State]{}
	if cfg.Session.Codec == "msgpack" {
		sessCodec = codec.Msgpack[session.State]{}
	}
	a.sess = session.New(session.Options{
		Store:           sessStore,
		Codec:           sessCodec,
		Logger:          a.log,
		RefreshInterval: cfg.Session.RefreshInterval,
		TTL:             cfg.Session.TTL,
	})

	a.api, err = transport.New(transport.Options{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.API.Timeout},
		Tokens:     a.sess,
		Logger:     a.log,
		MaxBody:    cfg.API.MaxBody,
	})
	if err != nil {
		return err
	}
	a.sess.SetAuthenticator(a.api)
	a.sess.OnLogout(func(ctx context.Context, cause error) {
		if err := a.cache.Clear(ctx); err != nil {
			a.log.Warn("clear cache on logout", deskquery.Fields{"err": err})
		}
	})
	if err := a.sess.Restore(ctx); err != nil {
		return err
	}

	a.res, err = resources.New(a.api, resources.Options{Persist: cacheOpts.Store != nil})
	return err
}

// close shuts components down in reverse dependency order.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.sess != nil {
		a.sess.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(ctx); err != nil {
			a.log.Warn("close cache", deskquery.Fields{"err": err})
		}
	}
	if a.hooks != nil {
		a.hooks.Close()
		if n := a.hooks.Dropped(); n > 0 {
			a.log.Warn("cache events dropped", deskquery.Fields{"count": n})
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.log != nil {
			a.log.Warn("shutdown", deskquery.Fields{"err": err})
		}
	}
}

func buildLogger(c config.LogConfig) (deskquery.Logger, func(), error) {
	switch c.Backend {
	case "logrus":
		l := logrus.New()
		l.SetOutput(os.Stderr)
		lvl, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return nil, nil, err
		}
		l.SetLevel(lvl)
		if c.Format == "json" {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		return logrusadapter.New(l), func() {}, nil

	case "slog":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, nil, err
		}
		opts := &slog.HandlerOptions{Level: lvl}
		var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if c.Format == "json" {
			h = slog.NewJSONHandler(os.Stderr, opts)
		}
		return slogadapter.New(slog.New(h)), func() {}, nil

	default:
		lvl, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, nil, err
		}
		zc := zap.NewDevelopmentConfig()
		if c.Format == "json" {
			zc = zap.NewProductionConfig()
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
		l, err := zc.Build()
		if err != nil {
			return nil, nil, err
		}
		return zapadapter.New(l), func() { _ = l.Sync() }, nil
	}
}

func (a *app) buildHooks() (deskquery.Hooks, error) {
	hc := a.cfg.Hooks
	var sinks deskquery.MultiHooks
	if hc.Events {
		l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		sinks = append(sinks, sloghooks.New(l, sloghooks.Options{
			SelfHealEvery: hc.SampleEvery,
			DiscardEvery:  hc.SampleEvery,
		}))
	}
	if hc.Metrics {
		m, err := otelhooks.New(otel.GetMeterProvider().Meter("github.com/unkn0wn-root/deskquery"))
		if err != nil {
			return nil, fmt.Errorf("metrics hooks: %w", err)
		}
		sinks = append(sinks, m)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	a.hooks = asynchook.New(sinks, 1, hc.QueueSize)
	return a.hooks, nil
}

func (a *app) cacheStore() (provider.Provider, error) {
	c := a.cfg.Cache
	switch c.Store {
	case "memory":
		return memory.New(time.Now), nil
	case "bigcache":
		return bigcache.New(bigcache.Config{LifeWindow: c.PersistTTL, MaxEntrySize: c.MaxEntrySize})
	case "ristretto":
		maxCost := c.MaxCost
		if maxCost <= 0 {
			maxCost = 64 << 20
		}
		return ristretto.New(ristretto.Config{NumCounters: 100_000, MaxCost: maxCost, BufferItems: 64})
	case "redis":
		return redisprovider.New(redisprovider.Config{Client: a.rdb, Prefix: a.cfg.Redis.Prefix})
	case "sqlite":
		return openSQLite(c.Path)
	default:
		return nil, nil
	}
}

// sessionStore is closed by app.close; the cache closes its own store.
func (a *app) sessionStore() (provider.Provider, error) {
	var (
		p   provider.Provider
		err error
	)
	switch a.cfg.Session.Store {
	case "memory":
		p = memory.New(time.Now)
	case "redis":
		p, err = redisprovider.New(redisprovider.Config{Client: a.rdb, Prefix: a.cfg.Redis.Prefix})
	default:
		p, err = openSQLite(a.cfg.Session.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.closers = append(a.closers, p.Close)
	return p, nil
}

func openSQLite(path string) (*sqlite.Provider, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return sqlite.Open(sqlite.Config{Path: path})
}
