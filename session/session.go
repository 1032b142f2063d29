// Package session owns the dashboard's authentication state: the bearer
// token and user, persisted under "auth-storage", and the periodic token
// refresh that keeps them valid. Manager implements transport.TokenSource.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/deskquery"
	"github.com/unkn0wn-root/deskquery/clock"
	"github.com/unkn0wn-root/deskquery/codec"
	"github.com/unkn0wn-root/deskquery/internal/wire"
	"github.com/unkn0wn-root/deskquery/model"
	"github.com/unkn0wn-root/deskquery/provider"
	"github.com/unkn0wn-root/deskquery/transport"
)

const (
	StorageKey             = "auth-storage"
	DefaultRefreshInterval = 25 * time.Minute

	storeTimeout = 5 * time.Second
)

var _ transport.TokenSource = (*Manager)(nil)

// ErrNotAuthenticated is returned by Refresh when there is no session.
var ErrNotAuthenticated = errors.New(errors.CodeUnauthorized, "session: not authenticated")

// State is what gets persisted.
type State struct {
	Token           string      `json:"token,omitempty"`
	User            *model.User `json:"user,omitempty"`
	IsAuthenticated bool        `json:"isAuthenticated"`
}

// Authenticator performs the login and refresh calls. *transport.Client
// implements it.
type Authenticator interface {
	Login(ctx context.Context, creds model.Credentials) (model.LoginResponse, error)
	RefreshToken(ctx context.Context) (model.TokenResponse, error)
}

// LogoutFunc runs after the session was dropped. cause is nil for an
// explicit Logout.
type LogoutFunc func(ctx context.Context, cause error)

type Options struct {
	// Store persists the session. nil keeps it in memory only.
	Store provider.Provider
	// Codec encodes State. nil => JSON.
	Codec codec.Codec[State]
	// Auth may also be set later with SetAuthenticator, since the transport
	// usually needs the Manager first.
	Auth            Authenticator
	Clock           clock.Clock
	Logger          deskquery.Logger
	RefreshInterval time.Duration // 0 => 25m
	// TTL bounds how long the stored session survives. 0 => no expiry.
	TTL time.Duration
}

type Manager struct {
	store    provider.Provider
	codec    codec.Codec[State]
	clk      clock.Clock
	log      deskquery.Logger
	interval time.Duration
	ttl      time.Duration
	sf       singleflight.Group

	mu       sync.Mutex
	auth     Authenticator
	st       State
	gen      uint64 // bumped on login and logout; late refresh replies are dropped
	stopTask context.CancelFunc
	onLogout []LogoutFunc
	wg       sync.WaitGroup
}

func New(opts Options) *Manager {
	m := &Manager{
		store:    opts.Store,
		codec:    opts.Codec,
		clk:      opts.Clock,
		log:      opts.Logger,
		interval: opts.RefreshInterval,
		ttl:      opts.TTL,
		auth:     opts.Auth,
	}
	if m.codec == nil {
		m.codec = codec.JSON[State]{}
	}
	if m.clk == nil {
		m.clk = clock.Real()
	}
	if m.log == nil {
		m.log = deskquery.NopLogger{}
	}
	if m.interval <= 0 {
		m.interval = DefaultRefreshInterval
	}
	return m
}

func (m *Manager) SetAuthenticator(a Authenticator) {
	m.mu.Lock()
	m.auth = a
	m.mu.Unlock()
}

// OnLogout registers fn to run after every logout, forced or explicit.
func (m *Manager) OnLogout(fn LogoutFunc) {
	m.mu.Lock()
	m.onLogout = append(m.onLogout, fn)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.st
	if st.User != nil {
		u := *st.User
		u.Permissions = append([]string(nil), u.Permissions...)
		st.User = &u
	}
	return st
}

func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Token
}

func (m *Manager) User() *model.User { return m.State().User }

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.IsAuthenticated
}

// HasPermission is false when logged out.
func (m *Manager) HasPermission(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.User.HasPermission(p)
}

// Restore loads a persisted session. A missing or unreadable record leaves
// the manager logged out; an unreadable one is deleted.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	raw, ok, err := m.store.Get(ctx, StorageKey)
	if err != nil {
		return fmt.Errorf("session: restore: %w", err)
	}
	if !ok {
		return nil
	}
	st, err := m.decode(raw)
	if err != nil {
		m.log.Warn("dropping unreadable session", deskquery.Fields{"err": err})
		if derr := m.store.Del(ctx, StorageKey); derr != nil {
			m.log.Warn("delete unreadable session failed", deskquery.Fields{"err": derr})
		}
		return nil
	}
	if !st.IsAuthenticated || st.Token == "" {
		return nil
	}

	m.mu.Lock()
	m.st = st
	m.gen++
	m.startTaskLocked()
	m.mu.Unlock()
	m.log.Info("session restored", deskquery.Fields{"user": userID(st.User)})
	return nil
}

// Login validates creds, authenticates, persists the session and (re)starts
// the refresh task.
func (m *Manager) Login(ctx context.Context, creds model.Credentials) (model.User, error) {
	if err := model.ValidateCredentials(creds).Err(); err != nil {
		return model.User{}, err
	}
	m.mu.Lock()
	auth := m.auth
	m.mu.Unlock()
	if auth == nil {
		return model.User{}, errors.New(errors.CodeInvalidConfig, "session: no authenticator")
	}

	resp, err := auth.Login(ctx, creds)
	if err != nil {
		m.log.Warn("login failed", deskquery.Fields{"email": creds.Email, "err": err})
		return model.User{}, err
	}
	user := resp.User
	st := State{Token: resp.Token, User: &user, IsAuthenticated: true}

	m.mu.Lock()
	m.st = st
	m.gen++
	m.startTaskLocked()
	m.mu.Unlock()

	if err := m.persist(ctx, st); err != nil {
		m.log.Warn("persist session failed", deskquery.Fields{"err": err})
	}
	m.log.Info("logged in", deskquery.Fields{"user": user.ID})
	return resp.User, nil
}

// Logout drops the session and runs the OnLogout callbacks.
func (m *Manager) Logout(ctx context.Context) { m.logout(ctx, nil) }

// ForceLogout is Logout after an unrecoverable auth failure.
func (m *Manager) ForceLogout(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	m.logout(ctx, cause)
}

func (m *Manager) logout(ctx context.Context, cause error) {
	m.mu.Lock()
	was := m.st.IsAuthenticated
	m.st = State{}
	m.gen++
	m.stopTaskLocked()
	fns := append([]LogoutFunc(nil), m.onLogout...)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Del(ctx, StorageKey); err != nil {
			m.log.Warn("delete session failed", deskquery.Fields{"err": err})
		}
	}
	if !was {
		return
	}
	if cause != nil {
		m.log.Warn("session ended", deskquery.Fields{"err": cause})
	} else {
		m.log.Info("logged out", nil)
	}
	for _, fn := range fns {
		fn(ctx, cause)
	}
}

// Refresh swaps the token for a new one. Concurrent calls share one request.
// A reply that arrives after a logout or a new login is dropped.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.sf.Do("refresh", func() (any, error) {
		m.mu.Lock()
		auth, gen, authed := m.auth, m.gen, m.st.IsAuthenticated
		m.mu.Unlock()
		if !authed {
			return nil, ErrNotAuthenticated
		}
		if auth == nil {
			return nil, errors.New(errors.CodeInvalidConfig, "session: no authenticator")
		}

		resp, err := auth.RefreshToken(ctx)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return nil, nil
		}
		m.st.Token = resp.Token
		st := m.st
		m.mu.Unlock()

		if err := m.persist(ctx, st); err != nil {
			m.log.Warn("persist session failed", deskquery.Fields{"err": err})
		}
		m.log.Debug("token refreshed", nil)
		return nil, nil
	})
	return err
}

// Close stops the refresh task. The store is left open.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopTaskLocked()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) startTaskLocked() {
	m.stopTaskLocked()
	ctx, cancel := context.WithCancel(context.Background())
	m.stopTask = cancel
	t := m.clk.NewTicker(m.interval)
	m.wg.Add(1)
	go m.refreshLoop(ctx, t)
}

func (m *Manager) stopTaskLocked() {
	if m.stopTask != nil {
		m.stopTask()
		m.stopTask = nil
	}
}

func (m *Manager) refreshLoop(ctx context.Context, t *clock.Ticker) {
	defer m.wg.Done()
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := m.Refresh(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("token refresh failed", deskquery.Fields{"err": err})
		// logout cancels ctx, so the loop ends on the next select
		m.ForceLogout(err)
	}
}

func (m *Manager) persist(ctx context.Context, st State) error {
	if m.store == nil {
		return nil
	}
	payload, err := m.codec.Encode(st)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	b := wire.Encode(wire.KindSession, 0, m.clk.Now(), payload)
	ok, err := m.store.Set(ctx, StorageKey, b, int64(len(b)), m.ttl)
	if err != nil {
		return fmt.Errorf("session: store: %w", err)
	}
	if !ok {
		return fmt.Errorf("session: store rejected write")
	}
	return nil
}

func (m *Manager) decode(raw []byte) (State, error) {
	f, err := wire.Decode(wire.KindSession, raw)
	if err != nil {
		return State{}, err
	}
	return m.codec.Decode(f.Payload)
}

func userID(u *model.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
