// Package fake provides an in-memory implementation of the portal REST API
// for tests and local development.
//
// Use fake.NewServer() in tests to run the real client stack against it
// without external dependencies:
//
//	api, srv := fake.NewServer(fake.WithUser(fake.Student("s1", "alice"), "pw"))
//	defer srv.Close()
package fake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/metrics"
	"github.com/academia-portal/portal-go/session"
	"github.com/academia-portal/portal-go/workflow"
)

// DefaultAccessTTL is the lifetime of issued access tokens.
const DefaultAccessTTL = 5 * time.Minute

// Option configures the fake API.
type Option func(*API)

type account struct {
	profile  portal.RawProfile
	password string
}

// API is an in-memory portal backend.
type API struct {
	mu            sync.RWMutex
	accounts      map[string]*account // username → account
	byID          map[string]*account
	refresh       map[string]string // refresh token → user ID
	generation    int64
	notifications map[string][]*portal.Notification // user ID → newest first

	secret    []byte
	accessTTL time.Duration
	clock     func() time.Time
	logger    *slog.Logger
	registry  *prometheus.Registry

	claims      *workflow.Engine[portal.GradeClaim]
	requests    *workflow.Engine[portal.AdminRequest]
	permissions *workflow.Engine[portal.Permission]

	loginCalls   atomic.Int64
	refreshCalls atomic.Int64

	handler http.Handler
}

// WithUser seeds an account. A missing ID gets a UUID.
func WithUser(p portal.RawProfile, password string) Option {
	return func(a *API) { a.addAccount(p, password) }
}

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(d time.Duration) Option {
	return func(a *API) { a.accessTTL = d }
}

// WithSecret sets the HS256 signing key.
func WithSecret(secret string) Option {
	return func(a *API) { a.secret = []byte(secret) }
}

// WithClock sets the time source for tokens and workflow timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.clock = now }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithNotification seeds an unread notification for userID.
func WithNotification(userID, title, message string) Option {
	return func(a *API) { a.notify(userID, title, message) }
}

// Student returns a profile carrying only the is_student flag.
func Student(id, username string) portal.RawProfile {
	return portal.RawProfile{ID: portal.ID(id), Username: username, Email: username + "@example.edu", IsStudent: true}
}

// Teacher returns a profile carrying only the is_teacher flag.
func Teacher(id, username string) portal.RawProfile {
	return portal.RawProfile{ID: portal.ID(id), Username: username, Email: username + "@example.edu", IsTeacher: true}
}

// Admin returns a profile with an explicit admin role.
func Admin(id, username string) portal.RawProfile {
	return portal.RawProfile{ID: portal.ID(id), Username: username, Email: username + "@example.edu", Role: string(portal.RoleAdmin)}
}

// New creates a fake API.
func New(opts ...Option) *API {
	a := &API{
		accounts:      make(map[string]*account),
		byID:          make(map[string]*account),
		refresh:       make(map[string]string),
		notifications: make(map[string][]*portal.Notification),
		secret:        []byte("portal-fake-secret"),
		accessTTL:     DefaultAccessTTL,
		clock:         time.Now,
		logger:        slog.Default(),
		registry:      prometheus.NewRegistry(),
	}
	for _, o := range opts {
		o(a)
	}

	wopts := []workflow.Option{
		workflow.WithClock(a.clock),
		workflow.WithLogger(a.logger),
		workflow.WithMetrics(metrics.New(a.registry)),
	}
	a.claims = workflow.New(workflow.GradeClaimPolicy, workflow.NewMemory[portal.GradeClaim](), wopts...)
	a.requests = workflow.New(workflow.RequestPolicy, workflow.NewMemory[portal.AdminRequest](), wopts...)
	a.permissions = workflow.New(workflow.PermissionPolicy, workflow.NewMemory[portal.Permission](), wopts...)
	a.handler = a.routes()
	return a
}

// NewServer starts the fake API on a local httptest server.
func NewServer(opts ...Option) (*API, *httptest.Server) {
	a := New(opts...)
	return a, httptest.NewServer(a.Handler())
}

// Handler returns the HTTP handler serving the API.
func (a *API) Handler() http.Handler { return a.handler }

// Registry returns the registry behind /metrics.
func (a *API) Registry() *prometheus.Registry { return a.registry }

// ExpireAccessTokens invalidates every access token issued so far. Refresh
// tokens stay valid.
func (a *API) ExpireAccessTokens() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (a *API) RevokeRefreshTokens() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refresh = make(map[string]string)
}

// LoginCalls returns the number of login requests served.
func (a *API) LoginCalls() int64 { return a.loginCalls.Load() }

// RefreshCalls returns the number of refresh requests served.
func (a *API) RefreshCalls() int64 { return a.refreshCalls.Load() }

// --- accounts ---

func (a *API) addAccount(p portal.RawProfile, password string) *account {
	if p.ID == "" {
		p.ID = portal.ID(uuid.NewString())
	}
	acc := &account{profile: p, password: password}
	a.accounts[p.Username] = acc
	a.byID[p.ID.String()] = acc
	return acc
}

// actor resolves the workflow identity with the same rule chain as clients,
// minus the legacy username shim.
func actor(p portal.RawProfile) portal.Actor {
	role, _ := session.Derive(&p, session.DefaultRules())
	return portal.Actor{ID: p.ID.String(), Role: role}
}

func (a *API) notify(userID, title, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := &portal.Notification{
		ID:        portal.ID(uuid.NewString()),
		Title:     title,
		Message:   message,
		CreatedAt: a.clock().UTC(),
	}
	a.notifications[userID] = append([]*portal.Notification{n}, a.notifications[userID]...)
}

// --- tokens ---

type claims struct {
	UserID     string `json:"user_id"`
	Generation int64  `json:"gen"`
	jwt.RegisteredClaims
}

var errTokenInvalid = errors.New("token not valid")

func (a *API) issue(userID string) (portal.Credentials, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:     userID,
		Generation: a.generation,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    "portal-fake",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
		},
	})
	access, err := token.SignedString(a.secret)
	if err != nil {
		return portal.Credentials{}, fmt.Errorf("portal/fake: sign token: %w", err)
	}
	refresh := uuid.NewString()
	a.refresh[refresh] = userID
	return portal.Credentials{AccessToken: access, RefreshToken: refresh}, nil
}

// rotate consumes a refresh token and issues a new pair.
func (a *API) rotate(refresh string) (portal.Credentials, error) {
	a.mu.Lock()
	userID, ok := a.refresh[refresh]
	delete(a.refresh, refresh)
	a.mu.Unlock()
	if !ok {
		return portal.Credentials{}, errTokenInvalid
	}
	return a.issue(userID)
}

func (a *API) verify(tokenString string) (*account, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.clock))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTokenInvalid, err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, errTokenInvalid
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if c.Generation < a.generation {
		return nil, errTokenInvalid
	}
	acc, ok := a.byID[c.UserID]
	if !ok {
		return nil, errTokenInvalid
	}
	return acc, nil
}

type accountKey struct{}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Authentication credentials were not provided.",
			})
			return
		}
		acc, err := a.verify(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, acc)))
	})
}

func current(r *http.Request) *account {
	acc, _ := r.Context().Value(accountKey{}).(*account)
	return acc
}

func (a *API) snapshot(acc *account) portal.RawProfile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return acc.profile
}
