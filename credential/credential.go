// Package credential provides portal.CredentialStore implementations.
//
// Every backend swallows its own I/O failures: a store that cannot be read
// reports no credentials, and a failed write is logged and counted. Token
// values never appear in log output.
package credential

import (
	"context"
	"log/slog"
	"sync"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/metrics"
)

// Option configures a store.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger used to report storage failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics counts storage failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) fail(backend, op string, err error) {
	o.logger.Warn("credential store failure", "backend", backend, "op", op, "error", err)
	o.metrics.RecordStoreFailure(backend, op)
}

// Memory keeps the pair in process memory. The zero value is ready to use.
type Memory struct {
	mu    sync.RWMutex
	creds *portal.Credentials
}

// compile-time check
var _ portal.CredentialStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save replaces the stored pair.
func (m *Memory) Save(_ context.Context, creds portal.Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := creds
	m.creds = &c
}

// Load returns a copy of the stored pair, or nil.
func (m *Memory) Load(_ context.Context) *portal.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return nil
	}
	c := *m.creds
	return &c
}

// Clear removes the stored pair.
func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
}

// usable reports whether a loaded pair can authenticate a request.
func usable(c *portal.Credentials) bool {
	return c != nil && c.AccessToken != ""
}
