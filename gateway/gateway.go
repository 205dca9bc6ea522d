// Package gateway provides the authenticated HTTP transport to the portal
// REST API.
//
// Every call carries the stored access token. A 401 triggers at most one
// refresh-and-replay; concurrent 401s share a single in-flight refresh so a
// single-use refresh token is never presented twice.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/metrics"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// Gateway implements portal.API over net/http.
type Gateway struct {
	baseURL     string
	refreshPath string
	store       portal.CredentialStore
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
	invalidated func(ctx context.Context)

	sf singleflight.Group
}

// compile-time check
var _ portal.API = (*Gateway)(nil)

// Option configures the Gateway.
type Option func(*Gateway)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics records request and refresh metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithRefreshPath overrides portal.DefaultRefreshPath.
func WithRefreshPath(p string) Option {
	return func(g *Gateway) {
		if p != "" {
			g.refreshPath = p
		}
	}
}

// OnInvalidated registers fn to run after the gateway has cleared the stored
// credentials because they could not be renewed.
func OnInvalidated(fn func(ctx context.Context)) Option {
	return func(g *Gateway) { g.invalidated = fn }
}

// New creates a gateway for the API rooted at baseURL.
func New(baseURL string, store portal.CredentialStore, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:     strings.TrimRight(baseURL, "/"),
		refreshPath: portal.DefaultRefreshPath,
		store:       store,
		httpClient:  &http.Client{Timeout: portal.DefaultTimeout},
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Get issues an authenticated GET.
func (g *Gateway) Get(ctx context.Context, path string, out any) error {
	return g.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues an authenticated POST.
func (g *Gateway) Post(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, http.MethodPost, path, body, out)
}

// Put issues an authenticated PUT.
func (g *Gateway) Put(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, http.MethodPut, path, body, out)
}

// Patch issues an authenticated PATCH.
func (g *Gateway) Patch(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, http.MethodPatch, path, body, out)
}

// Delete issues an authenticated DELETE.
func (g *Gateway) Delete(ctx context.Context, path string) error {
	return g.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Do sends an authenticated request, refreshing and replaying it once on 401.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out any) error {
	payload, err := encode(body)
	if err != nil {
		return err
	}

	sent := ""
	if creds := g.store.Load(ctx); creds != nil {
		sent = creds.AccessToken
	}

	resp, err := g.send(ctx, method, path, payload, sent)
	if err != nil {
		return err
	}
	if resp.status != http.StatusUnauthorized {
		return resp.decode(method, path, out)
	}

	token, err := g.renew(ctx, sent)
	if err != nil {
		return err
	}

	resp, err = g.send(ctx, method, path, payload, token)
	if err != nil {
		return err
	}
	if resp.status == http.StatusUnauthorized {
		g.logger.Warn("replayed request rejected after refresh", "method", method, "path", path)
		return g.invalidate(ctx, "replay", errors.New("replayed request was rejected"))
	}
	return resp.decode(method, path, out)
}

// DoPublic sends an unauthenticated request. A 401 is reported as invalid
// credentials and never triggers a refresh.
func (g *Gateway) DoPublic(ctx context.Context, method, path string, body, out any) error {
	payload, err := encode(body)
	if err != nil {
		return err
	}
	resp, err := g.send(ctx, method, path, payload, "")
	if err != nil {
		return err
	}
	if resp.status == http.StatusUnauthorized {
		return &portal.AuthError{Op: path, Detail: detail(resp.body), Err: portal.ErrInvalidCredentials}
	}
	return resp.decode(method, path, out)
}

// renew returns an access token to replay a rejected call with.
func (g *Gateway) renew(ctx context.Context, sent string) (string, error) {
	// Another call may already have refreshed while this one was in flight.
	if creds := g.store.Load(ctx); creds != nil && creds.AccessToken != "" && creds.AccessToken != sent {
		g.metrics.RecordRefresh("reused")
		return creds.AccessToken, nil
	}

	v, err, shared := g.sf.Do("refresh", func() (any, error) {
		return g.refresh(context.WithoutCancel(ctx), sent)
	})
	if shared {
		g.logger.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (g *Gateway) refresh(ctx context.Context, sent string) (string, error) {
	creds := g.store.Load(ctx)
	if creds != nil && creds.AccessToken != "" && creds.AccessToken != sent {
		// A refresh finished between the caller's check and this flight.
		g.metrics.RecordRefresh("reused")
		return creds.AccessToken, nil
	}
	if creds == nil || creds.RefreshToken == "" {
		g.metrics.RecordRefresh("failure")
		return "", g.invalidate(ctx, "refresh", portal.ErrNoCredentials)
	}

	payload, err := encode(map[string]string{"refresh": creds.RefreshToken})
	if err != nil {
		return "", err
	}
	resp, err := g.send(ctx, http.MethodPost, g.refreshPath, payload, "")
	if err != nil {
		g.metrics.RecordRefresh("error")
		return "", g.invalidate(ctx, "refresh", err)
	}
	if resp.status < 200 || resp.status >= 300 {
		g.metrics.RecordRefresh("failure")
		return "", g.invalidate(ctx, "refresh", fmt.Errorf("refresh endpoint returned %d: %s", resp.status, detail(resp.body)))
	}

	var rr refreshResponse
	if err := json.Unmarshal(resp.body, &rr); err != nil || rr.Access == "" {
		g.metrics.RecordRefresh("failure")
		return "", g.invalidate(ctx, "refresh", errors.New("refresh response carried no access token"))
	}

	next := portal.Credentials{AccessToken: rr.Access, RefreshToken: creds.RefreshToken}
	if rr.Refresh != "" {
		next.RefreshToken = rr.Refresh
	}
	g.store.Save(ctx, next)
	g.metrics.RecordRefresh("success")
	g.logger.Debug("access token refreshed", "rotated", rr.Refresh != "")
	return next.AccessToken, nil
}

func (g *Gateway) invalidate(ctx context.Context, op string, cause error) error {
	g.store.Clear(ctx)
	g.logger.Info("session invalidated", "op", op, "reason", cause)
	if g.invalidated != nil {
		g.invalidated(ctx)
	}
	return &portal.AuthError{Op: op, Err: fmt.Errorf("%w: %w", portal.ErrSessionInvalidated, cause)}
}

type response struct {
	status int
	body   []byte
}

func (g *Gateway) send(ctx context.Context, method, path string, payload []byte, token string) (*response, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("portal/gateway: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.metrics.RecordRequest(method, 0, time.Since(start).Seconds())
		g.logger.Debug("api request failed", "method", method, "path", path, "error", err)
		return nil, &portal.NetworkError{Op: method + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	g.metrics.RecordRequest(method, resp.StatusCode, time.Since(start).Seconds())
	if err != nil {
		return nil, &portal.NetworkError{Op: method + " " + path, Err: err}
	}
	g.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode)
	return &response{status: resp.StatusCode, body: body}, nil
}

func (r *response) decode(method, path string, out any) error {
	if r.status >= 200 && r.status < 300 {
		if out == nil || len(bytes.TrimSpace(r.body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.body, out); err != nil {
			return fmt.Errorf("portal/gateway: decode %s %s: %w", method, path, err)
		}
		return nil
	}
	return mapError(method+" "+path, r.status, r.body)
}

func encode(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("portal/gateway: encode body: %w", err)
	}
	return data, nil
}
