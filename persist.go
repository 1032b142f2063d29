package deskquery

import (
	"context"
	"errors"
	"sync"
	"time"

	gen "github.com/unkn0wn-root/deskquery/genstore"
	"github.com/unkn0wn-root/deskquery/internal/util"
	"github.com/unkn0wn-root/deskquery/internal/wire"
	pr "github.com/unkn0wn-root/deskquery/provider"
)

// persistTimeout bounds background generation bumps and deletes.
const persistTimeout = 5 * time.Second

// persister is the optional second tier behind the in-memory entries.
//
// Keys:
//
//	entry:<ns>:<hash>  - persisted entry (hash over the encoded query key)
//	root:<ns>:<hash>   - generation of one key root, e.g. "tickets"
//	root:<ns>:*        - generation of the whole namespace
//
// CAS pattern: the fetch goroutine snapshots root+namespace generations
// before the network call and writes the reply iff they did not move.
// Generations only grow, so a frame whose stamp equals the current sum was
// written after the last invalidation that could affect it.
type persister struct {
	ns    string
	store pr.Provider
	gens  gen.GenStore
	ttl   time.Duration
	log   Logger
	hooks Hooks
	wg    sync.WaitGroup
}

func (p *persister) storageKey(id string) string {
	return util.StorageKey("entry:"+p.ns, []byte(id))
}

func (p *persister) rootGen(root string) string {
	return util.StorageKey("root:"+p.ns, []byte(root))
}

func (p *persister) globalGen() string { return "root:" + p.ns + ":*" }

// observe returns the generation a reply for ek would be stamped with.
func (p *persister) observe(ctx context.Context, ek encodedKey) (uint64, bool) {
	root, global := p.rootGen(ek.parts[0]), p.globalGen()
	m, err := p.gens.SnapshotMany(ctx, []string{root, global})
	if err != nil {
		p.hooks.PersistError("snapshot", err)
		p.log.Warn("gen snapshot failed; entry not persisted", Fields{"key": ek.text, "err": err})
		return 0, false
	}
	return m[root] + m[global], true
}

func (p *persister) load(ctx context.Context, ek encodedKey, obs uint64, decode func([]byte) (any, error)) (any, time.Time, bool) {
	k := p.storageKey(ek.id)
	raw, ok, err := p.store.Get(ctx, k)
	if err != nil {
		p.hooks.PersistError("get", err)
		return nil, time.Time{}, false
	}
	if !ok {
		return nil, time.Time{}, false
	}
	f, err := wire.Decode(wire.KindEntry, raw)
	if err != nil {
		p.heal(ctx, k, "corrupt")
		return nil, time.Time{}, false
	}
	if f.Gen != obs {
		p.heal(ctx, k, "gen_mismatch")
		return nil, time.Time{}, false
	}
	v, err := decode(f.Payload)
	if err != nil {
		p.heal(ctx, k, "value_decode")
		return nil, time.Time{}, false
	}
	return v, f.UpdatedAt, true
}

func (p *persister) heal(ctx context.Context, storageKey, reason string) {
	_ = p.store.Del(ctx, storageKey)
	p.hooks.SelfHeal(storageKey, reason)
	p.log.Debug("persisted entry dropped", Fields{"storageKey": storageKey, "reason": reason})
}

func (p *persister) save(ctx context.Context, ek encodedKey, obs uint64, encode func(any) ([]byte, error), v any, at time.Time) {
	cur, ok := p.observe(ctx, ek)
	if !ok {
		return
	}
	if cur != obs {
		// generation moved; skip stale write
		p.log.Debug("persist skipped (gen mismatch)", Fields{"key": ek.text, "obs": obs, "gen": cur})
		return
	}
	payload, err := encode(v)
	if err != nil {
		p.hooks.PersistError("encode", err)
		p.log.Warn("persist encode failed", Fields{"key": ek.text, "err": err})
		return
	}
	frame := wire.Encode(wire.KindEntry, obs, at, payload)
	k := p.storageKey(ek.id)
	ok, err = p.store.Set(ctx, k, frame, int64(len(frame)), p.ttl)
	if err != nil {
		p.hooks.PersistError("set", err)
		p.log.Warn("persist set failed", Fields{"key": ek.text, "err": err})
		return
	}
	if !ok {
		p.hooks.ProviderSetRejected(k)
		p.log.Debug("persist rejected by provider (pressure)", Fields{"key": ek.text})
	}
}

// invalidate bumps the generation covering pat and deletes the frames of
// the given entry ids, in the background.
func (p *persister) invalidate(pat pattern, ids []string) {
	g := p.globalGen()
	if root, ok := pat.root(); ok {
		g = p.rootGen(root)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = p.storageKey(id)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		var delErrs []error
		for _, k := range keys {
			if err := p.store.Del(ctx, k); err != nil {
				delErrs = append(delErrs, err)
			}
		}
		_, bumpErr := p.gens.Bump(ctx, g)
		if bumpErr == nil && len(delErrs) == 0 {
			return
		}
		err := &PersistError{Op: "invalidate", Key: pat.text, BumpErr: bumpErr, DelErr: errors.Join(delErrs...)}
		p.hooks.PersistError("bump", err)
		p.log.Error("persisted invalidation failed", Fields{"pattern": pat.text, "err": err})
	}()
}

// clear retires every frame of the namespace.
func (p *persister) clear(ctx context.Context) error {
	if _, err := p.gens.Bump(ctx, p.globalGen()); err != nil {
		perr := &PersistError{Op: "clear", Key: p.ns, BumpErr: err}
		p.hooks.PersistError("bump", perr)
		return perr
	}
	return nil
}

func (p *persister) close(ctx context.Context) error {
	if err := waitCtx(ctx, &p.wg); err != nil {
		return err
	}
	// Close gen store first (best effort)
	_ = p.gens.Close(ctx)
	return p.store.Close(ctx)
}
