// Package session provides the SessionManager implementation: bootstrap from
// stored credentials, login, logout and the role derivation chain.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/audit"
	"github.com/academia-portal/portal-go/metrics"
	"github.com/academia-portal/portal-go/user"
)

// PathLogin is the token endpoint.
const PathLogin = "/auth/login/"

// Manager implements portal.SessionManager.
//
// Bootstrap, Login and Reload are serialized: a second call waits for the
// first to settle. Logout and Invalidate never wait and bump the state's
// Generation, which makes any operation still in flight discard its result.
type Manager struct {
	api     portal.API
	store   portal.CredentialStore
	users   portal.UserService
	rules   []Rule
	legacy  string
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger

	op     sync.Mutex // one pending network operation
	booted bool

	mu      sync.RWMutex
	state   portal.SessionState
	subs    map[int]func(portal.SessionState)
	nextSub int
}

// compile-time check
var _ portal.SessionManager = (*Manager)(nil)

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records session transitions and login results.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithAudit emits login, logout and invalidation events.
func WithAudit(a *audit.Logger) Option {
	return func(m *Manager) { m.audit = a }
}

// WithUserService replaces the REST user directory used to load profiles.
func WithUserService(u portal.UserService) Option {
	return func(m *Manager) { m.users = u }
}

// WithRules replaces DefaultRules. The legacy username rule is still
// appended unless disabled.
func WithRules(rules ...Rule) Option {
	return func(m *Manager) { m.rules = rules }
}

// WithLegacyAdminUsername sets the account name treated as admin when no
// other rule matches. An empty name disables the fallback.
func WithLegacyAdminUsername(name string) Option {
	return func(m *Manager) { m.legacy = name }
}

// WithoutLegacyAdmin disables the username fallback.
func WithoutLegacyAdmin() Option {
	return WithLegacyAdminUsername("")
}

// New creates a session manager. Profiles are loaded through api unless
// WithUserService is given.
func New(api portal.API, store portal.CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		api:    api,
		store:  store,
		rules:  DefaultRules(),
		legacy: portal.DefaultLegacyAdminUsername,
		logger: slog.Default(),
		subs:   make(map[int]func(portal.SessionState)),
	}
	for _, o := range opts {
		o(m)
	}
	if m.users == nil {
		m.users = user.New(user.NewREST(api))
	}
	if m.legacy != "" {
		m.rules = append(append([]Rule(nil), m.rules...), LegacyAdminUsername(m.legacy))
	}
	return m
}

// State returns the current snapshot.
func (m *Manager) State() portal.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers fn to receive every new snapshot. fn runs on the
// goroutine that caused the change and must not block.
func (m *Manager) Subscribe(fn func(portal.SessionState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Bootstrap restores the session from stored credentials. Only the first
// call that runs to completion does any work; later calls return the
// current state.
func (m *Manager) Bootstrap(ctx context.Context) (portal.SessionState, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if m.booted {
		return m.State(), nil
	}

	before, _ := m.update(func(s *portal.SessionState) bool {
		s.Status = portal.StatusLoading
		return true
	})
	gen := before.Generation

	creds := m.store.Load(ctx)
	if creds == nil {
		m.booted = true
		state, _ := m.update(func(s *portal.SessionState) bool {
			s.Status = portal.StatusReady
			return true
		})
		m.audit.LogContext(ctx, audit.Event{Action: audit.ActionBootstrap, Result: audit.ResultSuccess, Details: "no stored credentials"})
		return state, nil
	}

	raw, err := m.users.GetCurrent(ctx)
	if ctx.Err() != nil {
		// Discarded; a later Bootstrap may try again.
		m.update(func(s *portal.SessionState) bool {
			if s.Status != portal.StatusLoading {
				return false
			}
			s.Status = portal.StatusIdle
			return true
		})
		return m.State(), fmt.Errorf("portal/session: bootstrap: %w", ctx.Err())
	}
	m.booted = true

	if err != nil {
		m.store.Clear(ctx)
		state := m.reset()
		m.logger.Info("stored session could not be restored", "error", err)
		m.audit.LogContext(ctx, audit.Event{Action: audit.ActionBootstrap, Result: audit.ResultFailure, Error: err.Error()})
		return state, fmt.Errorf("portal/session: bootstrap: %w", err)
	}

	profile := m.profile(raw)
	state, ok := m.update(func(s *portal.SessionState) bool {
		if s.Generation != gen {
			return false
		}
		s.User = profile
		s.Status = portal.StatusReady
		s.Generation++
		return true
	})
	if !ok {
		m.store.Clear(ctx)
		return state, fmt.Errorf("portal/session: bootstrap: %w", portal.ErrSuperseded)
	}
	m.logger.Info("session restored", "user_id", profile.ID, "role", profile.Role)
	m.audit.LogContext(ctx, audit.Event{
		Action: audit.ActionBootstrap, Result: audit.ResultSuccess,
		ActorID: profile.ID, ActorRole: string(profile.Role),
	})
	return state, nil
}

// Login exchanges username and password for a credential pair, stores it and
// loads the profile. On failure the session is left untouched.
func (m *Manager) Login(ctx context.Context, username, password string) (*portal.UserProfile, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, &portal.ValidationError{
			Message: "username and password are required",
			Fields:  requiredFields(map[string]string{"username": strings.TrimSpace(username), "password": password}),
		}
	}

	m.op.Lock()
	defer m.op.Unlock()
	gen := m.State().Generation

	var pair portal.Credentials
	body := map[string]string{"username": username, "password": password}
	if err := m.api.DoPublic(ctx, http.MethodPost, PathLogin, body, &pair); err != nil {
		m.loginFailed(ctx, username, err)
		return nil, fmt.Errorf("portal/session: login: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("portal/session: login: %w", err)
	}
	if pair.AccessToken == "" {
		err := &portal.AuthError{Op: "login", Detail: "response carried no access token", Err: portal.ErrInvalidCredentials}
		m.loginFailed(ctx, username, err)
		return nil, fmt.Errorf("portal/session: login: %w", err)
	}

	prev := m.store.Load(ctx)
	m.store.Save(ctx, pair)

	raw, err := m.users.GetCurrent(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.restore(ctx, prev)
		m.loginFailed(ctx, username, err)
		return nil, fmt.Errorf("portal/session: login: %w", err)
	}

	profile := m.profile(raw)
	_, ok := m.update(func(s *portal.SessionState) bool {
		if s.Generation != gen {
			return false
		}
		s.User = profile
		s.Status = portal.StatusReady
		s.Generation++
		return true
	})
	if !ok {
		// A logout or invalidation happened while this login was in flight.
		m.store.Clear(ctx)
		m.metrics.RecordLogin("superseded")
		return nil, fmt.Errorf("portal/session: login: %w", portal.ErrSuperseded)
	}

	m.booted = true
	m.metrics.RecordLogin("success")
	m.logger.Info("login succeeded", "user_id", profile.ID, "role", profile.Role)
	m.audit.LogContext(ctx, audit.Event{
		Action: audit.ActionLogin, Result: audit.ResultSuccess,
		ActorID: profile.ID, ActorRole: string(profile.Role),
	})
	return profile, nil
}

// restore puts back the pair that was stored before a failed login, so the
// store keeps matching the session that is still current.
func (m *Manager) restore(ctx context.Context, prev *portal.Credentials) {
	if prev == nil {
		m.store.Clear(ctx)
		return
	}
	m.store.Save(ctx, *prev)
}

func (m *Manager) loginFailed(ctx context.Context, username string, err error) {
	result := "error"
	if errors.Is(err, portal.ErrInvalidCredentials) {
		result = "invalid"
	}
	m.metrics.RecordLogin(result)
	m.logger.Info("login failed", "username", username, "error", err)
	m.audit.LogContext(ctx, audit.Event{Action: audit.ActionLogin, Result: audit.ResultFailure, Details: username, Error: err.Error()})
}

// Logout clears the credentials and the current user. It makes no network call.
func (m *Manager) Logout(ctx context.Context) {
	m.store.Clear(ctx)
	prev := m.State().User
	m.reset()
	if prev != nil {
		m.logger.Info("logged out", "user_id", prev.ID)
	}
	m.audit.LogContext(ctx, audit.Event{
		Action: audit.ActionLogout, Result: audit.ResultSuccess,
		ActorID: prev.Actor().ID, ActorRole: string(prev.Actor().Role),
	})
}

// Invalidate resets the session after the gateway gave up renewing the
// credentials. The gateway has already cleared the store.
func (m *Manager) Invalidate(ctx context.Context) {
	prev := m.State().User
	m.reset()
	m.logger.Warn("session invalidated", "user_id", prev.Actor().ID)
	m.audit.LogContext(ctx, audit.Event{
		Action: audit.ActionInvalidate, Result: audit.ResultSuccess,
		ActorID: prev.Actor().ID, ActorRole: string(prev.Actor().Role),
	})
}

// Reload re-fetches the current user, for instance after a profile edit.
func (m *Manager) Reload(ctx context.Context) (*portal.UserProfile, error) {
	m.op.Lock()
	defer m.op.Unlock()

	cur := m.State()
	if cur.User == nil {
		return nil, &portal.AuthError{Op: "reload", Err: portal.ErrNoCredentials}
	}
	raw, err := m.users.GetCurrent(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("portal/session: reload: %w", err)
	}

	profile := m.profile(raw)
	if _, ok := m.update(func(s *portal.SessionState) bool {
		if s.Generation != cur.Generation {
			return false
		}
		s.User = profile
		s.Generation++
		return true
	}); !ok {
		return nil, fmt.Errorf("portal/session: reload: %w", portal.ErrSuperseded)
	}
	return profile, nil
}

func (m *Manager) profile(raw *portal.RawProfile) *portal.UserProfile {
	role, rule := Derive(raw, m.rules)
	if rule == LegacyRuleName {
		m.logger.Warn("role derived from legacy username fallback", "username", raw.Username)
	}
	if role == portal.RoleNone {
		m.logger.Warn("no role could be derived for user", "user_id", raw.ID)
	}
	return portal.NewUserProfile(raw, role)
}

// reset sets Ready(nil) and bumps the generation.
func (m *Manager) reset() portal.SessionState {
	state, _ := m.update(func(s *portal.SessionState) bool {
		s.User = nil
		s.Status = portal.StatusReady
		s.Generation++
		return true
	})
	return state
}

// update applies fn to a copy of the state and publishes it when fn reports
// a change. Subscribers are called without the lock held.
func (m *Manager) update(fn func(s *portal.SessionState) bool) (portal.SessionState, bool) {
	m.mu.Lock()
	next := m.state
	if !fn(&next) {
		cur := m.state
		m.mu.Unlock()
		return cur, false
	}
	m.state = next
	subs := make([]func(portal.SessionState), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.metrics.RecordSessionTransition(next.Status.String(), next.Authenticated())
	for _, fn := range subs {
		fn(next)
	}
	return next, true
}

func requiredFields(values map[string]string) map[string][]string {
	fields := make(map[string][]string)
	for k, v := range values {
		if v == "" {
			fields[k] = []string{"This field is required."}
		}
	}
	return fields
}
