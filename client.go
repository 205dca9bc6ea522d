// Package portal provides the client-side core of the academic portal: an
// authenticated session over a bearer-token REST API, role-gated access
// decisions, and the review/approval workflow shared by grade claims,
// administrative requests and teacher permissions.
//
// The root package defines the shared types, interfaces and error taxonomy.
// Concrete implementations live in sub-packages and are injected via Option
// functions; remote.NewClient wires them against a live API and fake provides
// an in-memory API for tests.
//
//	client, err := remote.NewClient(portal.Config{BaseURL: "http://localhost:8000/api"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	state, _ := client.Session().Bootstrap(ctx)
package portal

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Client is the main entry point for portal operations.
// Service implementations are injected via Option functions.
type Client struct {
	config        Config
	logger        *slog.Logger
	store         CredentialStore
	api           API
	session       SessionManager
	users         UserService
	notifications NotificationService
	claims        Reviews[GradeClaim]
	requests      Reviews[AdminRequest]
	permissions   Reviews[Permission]
}

// Config holds connection and behavior configuration.
type Config struct {
	// BaseURL is the root of the REST API, e.g. "http://localhost:8000/api".
	BaseURL string

	// Timeout bounds every HTTP call. Default: 30 seconds.
	Timeout time.Duration

	// RefreshPath is the token refresh endpoint. Default: "/auth/refresh/".
	RefreshPath string

	// LegacyAdminUsername is the account name treated as admin when the
	// backend sends no role information. Default: "admin".
	LegacyAdminUsername string

	// DisableLegacyAdmin turns the username fallback off entirely.
	DisableLegacyAdmin bool
}

const (
	// DefaultTimeout is applied when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// DefaultRefreshPath is applied when Config.RefreshPath is empty.
	DefaultRefreshPath = "/auth/refresh/"

	// DefaultLegacyAdminUsername is applied when Config.LegacyAdminUsername is empty.
	DefaultLegacyAdminUsername = "admin"
)

// WithDefaults validates cfg and fills unset fields.
func (cfg Config) WithDefaults() (Config, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return cfg, fmt.Errorf("portal: BaseURL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = DefaultRefreshPath
	}
	if cfg.LegacyAdminUsername == "" {
		cfg.LegacyAdminUsername = DefaultLegacyAdminUsername
	}
	return cfg, nil
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCredentialStore sets the credential store.
func WithCredentialStore(s CredentialStore) Option {
	return func(c *Client) { c.store = s }
}

// WithAPI sets the API transport.
func WithAPI(a API) Option {
	return func(c *Client) { c.api = a }
}

// WithSessionManager sets the session manager.
func WithSessionManager(s SessionManager) Option {
	return func(c *Client) { c.session = s }
}

// WithUserService sets the user directory implementation.
func WithUserService(u UserService) Option {
	return func(c *Client) { c.users = u }
}

// WithNotificationService sets the notification implementation.
func WithNotificationService(n NotificationService) Option {
	return func(c *Client) { c.notifications = n }
}

// WithGradeClaims sets the grade claim workflow.
func WithGradeClaims(r Reviews[GradeClaim]) Option {
	return func(c *Client) { c.claims = r }
}

// WithRequests sets the administrative request workflow.
func WithRequests(r Reviews[AdminRequest]) Option {
	return func(c *Client) { c.requests = r }
}

// WithPermissions sets the teacher permission workflow.
func WithPermissions(r Reviews[Permission]) Option {
	return func(c *Client) { c.permissions = r }
}

// NewClient creates a new portal client with the given configuration and options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg, err := cfg.WithDefaults()
	if err != nil {
		return nil, err
	}

	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Credentials returns the credential store, or nil if not configured.
func (c *Client) Credentials() CredentialStore { return c.store }

// API returns the API transport, or nil if not configured.
func (c *Client) API() API { return c.api }

// Session returns the session manager, or nil if not configured.
func (c *Client) Session() SessionManager { return c.session }

// Users returns the user directory, or nil if not configured.
func (c *Client) Users() UserService { return c.users }

// Notifications returns the notification service, or nil if not configured.
func (c *Client) Notifications() NotificationService { return c.notifications }

// GradeClaims returns the grade claim workflow, or nil if not configured.
func (c *Client) GradeClaims() Reviews[GradeClaim] { return c.claims }

// Requests returns the administrative request workflow, or nil if not configured.
func (c *Client) Requests() Reviews[AdminRequest] { return c.requests }

// Permissions returns the teacher permission workflow, or nil if not configured.
func (c *Client) Permissions() Reviews[Permission] { return c.permissions }

// Actor returns the workflow actor of the signed-in user.
func (c *Client) Actor() (Actor, error) {
	if c.session == nil {
		return Actor{}, fmt.Errorf("portal: session manager not configured")
	}
	state := c.session.State()
	if state.User == nil {
		return Actor{}, &AuthError{Op: "actor", Err: ErrNoCredentials}
	}
	return state.User.Actor(), nil
}

// Close releases all resources held by the client.
// Any injected service that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []any{
		c.store, c.api, c.session, c.users, c.notifications,
		c.claims, c.requests, c.permissions,
	}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
