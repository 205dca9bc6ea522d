// Package ginmw provides Gin HTTP middleware that applies the access guard
// to role-gated views.
//
// The middleware reads the session through a StateSource (normally the
// session.Manager) and never calls the network.
package ginmw

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/audit"
	"github.com/academia-portal/portal-go/guard"
	"github.com/academia-portal/portal-go/metrics"
)

// Context keys for storing session data in gin.Context.
const (
	KeyUserID    = "portal_user_id"
	KeyRole      = "portal_role"
	KeyState     = "portal_session_state"
	KeyRequestID = "portal_request_id"
)

// HeaderRequestID is propagated into audit events when present.
const HeaderRequestID = "X-Request-ID"

// StateSource yields the current session snapshot.
type StateSource interface {
	State() portal.SessionState
}

// Gate turns guard decisions into HTTP responses.
type Gate struct {
	src        StateSource
	routes     *guard.Table
	metrics    *metrics.Metrics
	logger     *slog.Logger
	retryAfter time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithRoutes replaces guard.DefaultRoutes for Routes.
func WithRoutes(t *guard.Table) Option {
	return func(g *Gate) { g.routes = t }
}

// WithMetrics records every decision.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithRetryAfter sets the Retry-After hint sent while the session loads.
func WithRetryAfter(d time.Duration) Option {
	return func(g *Gate) { g.retryAfter = d }
}

// New creates a Gate reading state from src.
func New(src StateSource, opts ...Option) *Gate {
	g := &Gate{
		src:        src,
		routes:     guard.DefaultRoutes(),
		logger:     slog.Default(),
		retryAfter: time.Second,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Require returns middleware admitting only the given roles. With no roles,
// any signed-in user is admitted.
//
//   - Wait: 503 with Retry-After
//   - RedirectLogin: 302 to /login (401 JSON for API clients)
//   - RedirectHome: 302 to the role's home (403 JSON for API clients)
func (g *Gate) Require(roles ...portal.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := g.src.State()
		d := guard.Decide(state, roles...)
		g.apply(c, state, d, guard.Target(d, state))
	}
}

// Routes returns middleware that applies the route table to every request.
func (g *Gate) Routes() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := g.src.State()
		d, target := g.routes.Check(state, c.Request.URL.Path)
		g.apply(c, state, d, target)
	}
}

func (g *Gate) apply(c *gin.Context, state portal.SessionState, d guard.Decision, target string) {
	g.metrics.RecordGuardDecision(d.String())

	switch d {
	case guard.Allow:
		admit(c, state)
		c.Next()
		return
	case guard.Wait:
		c.Header("Retry-After", strconv.Itoa(int(g.retryAfter.Seconds())))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session is loading"})
		return
	}

	g.logger.Debug("access redirected",
		"path", c.Request.URL.Path, "decision", d.String(), "target", target,
		"user_id", state.User.Actor().ID)

	if wantsJSON(c.Request) {
		status := http.StatusUnauthorized
		if d == guard.RedirectHome {
			status = http.StatusForbidden
		}
		c.AbortWithStatusJSON(status, gin.H{"error": d.String(), "redirect": target})
		return
	}
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

// admit stores the session in the gin and request contexts.
func admit(c *gin.Context, state portal.SessionState) {
	reqID := c.GetHeader(HeaderRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	c.Set(KeyRequestID, reqID)
	c.Set(KeyState, state)

	ctx := portal.WithSessionState(c.Request.Context(), state)
	ctx = audit.WithRequestID(ctx, reqID)
	if state.User != nil {
		c.Set(KeyUserID, state.User.ID)
		c.Set(KeyRole, state.User.Role)
		ctx = portal.WithActor(ctx, state.User.Actor())
	}
	c.Request = c.Request.WithContext(ctx)
}

// --- Context helpers ---

// GetUserID returns the admitted user ID from the Gin context.
func GetUserID(c *gin.Context) string {
	v, _ := c.Get(KeyUserID)
	s, _ := v.(string)
	return s
}

// GetRole returns the admitted user's role from the Gin context.
func GetRole(c *gin.Context) portal.Role {
	v, _ := c.Get(KeyRole)
	r, _ := v.(portal.Role)
	return r
}

// GetState returns the session snapshot the request was admitted with.
func GetState(c *gin.Context) (portal.SessionState, bool) {
	v, ok := c.Get(KeyState)
	if !ok {
		return portal.SessionState{}, false
	}
	s, ok := v.(portal.SessionState)
	return s, ok
}

// GetRequestID returns the request ID assigned on admission.
func GetRequestID(c *gin.Context) string {
	v, _ := c.Get(KeyRequestID)
	s, _ := v.(string)
	return s
}

// --- internal helpers ---

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
