// Package remote wires the portal client against a live REST API:
// credential store, gateway, session manager, workflows, user directory and
// notifications.
//
//	c, err := remote.NewClient(portal.Config{BaseURL: "http://localhost:8000/api"},
//	    remote.WithCredentialStore(credential.NewFile(path)))
package remote

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/audit"
	"github.com/academia-portal/portal-go/credential"
	"github.com/academia-portal/portal-go/gateway"
	"github.com/academia-portal/portal-go/metrics"
	"github.com/academia-portal/portal-go/notify"
	"github.com/academia-portal/portal-go/session"
	"github.com/academia-portal/portal-go/user"
	"github.com/academia-portal/portal-go/workflow"
)

// Option configures NewClient.
type Option func(*options)

type options struct {
	store      portal.CredentialStore
	logger     *slog.Logger
	httpClient *http.Client
	metrics    *metrics.Metrics
	audit      *audit.Logger
	clock      func() time.Time
}

// WithCredentialStore sets where the credential pair lives. Default: memory.
func WithCredentialStore(s portal.CredentialStore) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the gateway's HTTP client. A client without its
// own Timeout gets Config.Timeout; the caller's client is not modified.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMetrics records gateway, session and workflow metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAudit emits session and workflow audit events.
func WithAudit(a *audit.Logger) Option {
	return func(o *options) { o.audit = a }
}

// WithClock sets the time source for workflow timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Client is a portal.Client with typed access to the concrete session
// manager and gateway.
type Client struct {
	*portal.Client

	manager *session.Manager
	gateway *gateway.Gateway
}

// Manager returns the session manager, which also offers Register,
// ChangePassword and Reload.
func (c *Client) Manager() *session.Manager { return c.manager }

// Gateway returns the HTTP gateway.
func (c *Client) Gateway() *gateway.Gateway { return c.gateway }

// NewClient builds the full client stack for cfg.
func NewClient(cfg portal.Config, opts ...Option) (*Client, error) {
	cfg, err := cfg.WithDefaults()
	if err != nil {
		return nil, err
	}
	o := options{logger: slog.Default(), clock: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.store == nil {
		o.store = credential.NewMemory()
	}

	// The gateway reports invalidation to the manager, which needs the
	// gateway to exist first.
	var mgr *session.Manager
	gwOpts := []gateway.Option{
		gateway.WithTimeout(cfg.Timeout),
		gateway.WithLogger(o.logger),
		gateway.WithMetrics(o.metrics),
		gateway.WithRefreshPath(cfg.RefreshPath),
		gateway.OnInvalidated(func(ctx context.Context) {
			if mgr != nil {
				mgr.Invalidate(ctx)
			}
		}),
	}
	if o.httpClient != nil {
		hc := *o.httpClient
		if hc.Timeout == 0 {
			hc.Timeout = cfg.Timeout
		}
		gwOpts = append(gwOpts, gateway.WithHTTPClient(&hc))
	}
	gw := gateway.New(cfg.BaseURL, o.store, gwOpts...)

	users := user.New(user.NewREST(gw))
	sessOpts := []session.Option{
		session.WithLogger(o.logger),
		session.WithMetrics(o.metrics),
		session.WithAudit(o.audit),
		session.WithUserService(users),
	}
	if cfg.DisableLegacyAdmin {
		sessOpts = append(sessOpts, session.WithoutLegacyAdmin())
	} else {
		sessOpts = append(sessOpts, session.WithLegacyAdminUsername(cfg.LegacyAdminUsername))
	}
	mgr = session.New(gw, o.store, sessOpts...)

	wfOpts := []workflow.Option{
		workflow.WithLogger(o.logger),
		workflow.WithMetrics(o.metrics),
		workflow.WithAudit(o.audit),
		workflow.WithClock(o.clock),
	}
	claims := workflow.New(workflow.GradeClaimPolicy, workflow.NewREST(gw, workflow.GradeClaimEndpoints()), wfOpts...)
	requests := workflow.New(workflow.RequestPolicy, workflow.NewREST(gw, workflow.RequestEndpoints()), wfOpts...)
	permissions := workflow.New(workflow.PermissionPolicy, workflow.NewREST(gw, workflow.PermissionEndpoints()), wfOpts...)

	base, err := portal.NewClient(cfg,
		portal.WithLogger(o.logger),
		portal.WithCredentialStore(o.store),
		portal.WithAPI(gw),
		portal.WithSessionManager(mgr),
		portal.WithUserService(users),
		portal.WithNotificationService(notify.New(gw)),
		portal.WithGradeClaims(claims),
		portal.WithRequests(requests),
		portal.WithPermissions(permissions),
	)
	if err != nil {
		return nil, err
	}
	return &Client{Client: base, manager: mgr, gateway: gw}, nil
}
