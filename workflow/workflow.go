// Package workflow implements the review/approval life cycle shared by
// grade claims, administrative requests and teacher permissions.
//
// Items start Pending and are decided exactly once, to Approved or
// Rejected, by a privileged actor with a non-empty response. The Engine
// enforces roles and transitions; a Store persists items and applies the
// final transition atomically.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/audit"
	"github.com/academia-portal/portal-go/metrics"
)

// Policy states who may file and who may decide items of one kind.
type Policy struct {
	Kind     portal.Kind
	Creators []portal.Role
	Deciders []portal.Role
}

// Standard policies.
var (
	GradeClaimPolicy = Policy{
		Kind:     portal.KindGradeClaim,
		Creators: []portal.Role{portal.RoleStudent, portal.RoleTeacher},
		Deciders: []portal.Role{portal.RoleAdmin},
	}
	RequestPolicy = Policy{
		Kind:     portal.KindRequest,
		Creators: []portal.Role{portal.RoleStudent, portal.RoleTeacher},
		Deciders: []portal.Role{portal.RoleAdmin},
	}
	PermissionPolicy = Policy{
		Kind:     portal.KindPermission,
		Creators: []portal.Role{portal.RoleTeacher},
		Deciders: []portal.Role{portal.RoleAdmin},
	}
)

// Decision is the terminal transition handed to a Store.
type Decision struct {
	Outcome   portal.Status
	Response  string
	DecidedBy string
	DecidedAt time.Time
}

// Store persists items of one kind.
type Store[S any] interface {
	// Insert saves a new pending item and returns it with its ID assigned.
	Insert(ctx context.Context, item portal.Item[S]) (*portal.Item[S], error)

	// Get returns one item. Missing items yield an error wrapping portal.ErrNotFound.
	Get(ctx context.Context, id string) (*portal.Item[S], error)

	// List returns items matching filter, oldest first.
	List(ctx context.Context, filter portal.Filter) ([]*portal.Item[S], error)

	// Resolve applies d only if the item is still pending, setting every
	// terminal field in one step. Otherwise it returns *portal.WorkflowStateError.
	Resolve(ctx context.Context, id string, d Decision) (*portal.Item[S], error)
}

// Option configures an Engine.
type Option func(*config)

type config struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
	clock   func() time.Time
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics records workflow operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithAudit emits create and decide events. Without it the engine uses the
// audit logger carried by the context, if any.
func WithAudit(a *audit.Logger) Option {
	return func(c *config) { c.audit = a }
}

// WithClock sets the time source for CreatedAt and DecidedAt.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.clock = now }
}

// Engine implements portal.Reviews for one item kind.
type Engine[S any] struct {
	policy Policy
	store  Store[S]
	cfg    config
}

// compile-time check
var _ portal.Reviews[portal.GradeClaim] = (*Engine[portal.GradeClaim])(nil)

// New creates an engine enforcing policy over store.
func New[S any](policy Policy, store Store[S], opts ...Option) *Engine[S] {
	cfg := config{logger: slog.Default(), clock: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	return &Engine[S]{policy: policy, store: store, cfg: cfg}
}

// Policy returns the engine's policy.
func (e *Engine[S]) Policy() Policy { return e.policy }

// Create files a new pending item owned by actor.
func (e *Engine[S]) Create(ctx context.Context, actor portal.Actor, subject S, reason string) (*portal.Item[S], error) {
	if !actor.Role.In(e.policy.Creators...) {
		err := &portal.AuthorizationError{Action: "create " + string(e.policy.Kind), Role: actor.Role, Required: e.policy.Creators}
		e.denied(ctx, actor, "create", "", err)
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, e.invalid("create", &portal.ValidationError{
			Message: "reason is required",
			Fields:  map[string][]string{"reason": {"This field may not be blank."}},
		})
	}
	if v, ok := any(subject).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, e.invalid("create", err)
		}
	}

	item, err := e.store.Insert(ctx, portal.Item[S]{
		Kind:        e.policy.Kind,
		Subject:     subject,
		RequesterID: actor.ID,
		Reason:      reason,
		Status:      portal.StatusPending,
		CreatedAt:   e.cfg.clock().UTC(),
	})
	if err != nil {
		e.cfg.metrics.RecordWorkflow(string(e.policy.Kind), "create", "error")
		return nil, fmt.Errorf("portal/workflow: create %s: %w", e.policy.Kind, err)
	}

	e.cfg.metrics.RecordWorkflow(string(e.policy.Kind), "create", "success")
	e.cfg.logger.Info("workflow item created", "kind", e.policy.Kind, "item_id", item.ID, "user_id", actor.ID)
	e.auditor(ctx).LogContext(ctx, audit.Event{
		Action: audit.ActionCreate, Result: audit.ResultSuccess,
		ActorID: actor.ID, ActorRole: string(actor.Role),
		Kind: string(e.policy.Kind), ItemID: item.ID,
	})
	return item, nil
}

// Decide moves a pending item to outcome. Deciding an item that is no longer
// pending fails with *portal.WorkflowStateError and leaves it unchanged.
func (e *Engine[S]) Decide(ctx context.Context, actor portal.Actor, id string, outcome portal.Status, response string) (*portal.Item[S], error) {
	if !actor.Role.In(e.policy.Deciders...) {
		err := &portal.AuthorizationError{Action: "decide " + string(e.policy.Kind), Role: actor.Role, Required: e.policy.Deciders}
		e.denied(ctx, actor, "decide", id, err)
		return nil, err
	}
	if !outcome.Outcome() {
		return nil, e.invalid("decide", &portal.ValidationError{
			Message: fmt.Sprintf("outcome must be %s or %s", portal.StatusApproved, portal.StatusRejected),
			Fields:  map[string][]string{"status": {fmt.Sprintf("%q is not a valid choice.", outcome)}},
		})
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, e.invalid("decide", &portal.ValidationError{
			Message: "a response is required",
			Fields:  map[string][]string{"response": {"This field may not be blank."}},
		})
	}

	current, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("portal/workflow: decide %s: %w", e.policy.Kind, err)
	}
	if current.Status != portal.StatusPending {
		err := &portal.WorkflowStateError{Op: "decide", ItemID: id, Status: current.Status}
		e.denied(ctx, actor, "decide", id, err)
		return nil, err
	}

	item, err := e.store.Resolve(ctx, id, Decision{
		Outcome:   outcome,
		Response:  response,
		DecidedBy: actor.ID,
		DecidedAt: e.cfg.clock().UTC(),
	})
	if err != nil {
		var stateErr *portal.WorkflowStateError
		if errors.As(err, &stateErr) {
			e.denied(ctx, actor, "decide", id, err)
			return nil, err
		}
		e.cfg.metrics.RecordWorkflow(string(e.policy.Kind), "decide", "error")
		return nil, fmt.Errorf("portal/workflow: decide %s: %w", e.policy.Kind, err)
	}
	if item.Status != outcome {
		return nil, &portal.WorkflowStateError{Op: "decide", ItemID: id, Status: item.Status, Detail: "store applied a different outcome"}
	}

	e.cfg.metrics.RecordWorkflow(string(e.policy.Kind), "decide", string(outcome))
	e.cfg.logger.Info("workflow item decided",
		"kind", e.policy.Kind, "item_id", id, "outcome", outcome, "user_id", actor.ID)
	e.auditor(ctx).LogContext(ctx, audit.Event{
		Action: audit.ActionDecide, Result: string(outcome),
		ActorID: actor.ID, ActorRole: string(actor.Role),
		Kind: string(e.policy.Kind), ItemID: id, Details: response,
	})
	return item, nil
}

// Get returns one item. Owners see their own items; deciders see all.
func (e *Engine[S]) Get(ctx context.Context, actor portal.Actor, id string) (*portal.Item[S], error) {
	if actor.Role == portal.RoleNone {
		return nil, &portal.AuthorizationError{Action: "view " + string(e.policy.Kind), Required: e.viewers()}
	}
	item, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("portal/workflow: get %s: %w", e.policy.Kind, err)
	}
	if !e.decider(actor) && item.RequesterID != "" && item.RequesterID != actor.ID {
		return nil, fmt.Errorf("portal/workflow: get %s %q: %w", e.policy.Kind, id, portal.ErrNotFound)
	}
	return item, nil
}

// List returns the items visible to actor that match filter.
func (e *Engine[S]) List(ctx context.Context, actor portal.Actor, filter portal.Filter) ([]*portal.Item[S], error) {
	if actor.Role == portal.RoleNone {
		return nil, &portal.AuthorizationError{Action: "list " + string(e.policy.Kind), Required: e.viewers()}
	}
	if !e.decider(actor) {
		filter.RequesterID = actor.ID
	}
	items, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("portal/workflow: list %s: %w", e.policy.Kind, err)
	}
	return items, nil
}

func (e *Engine[S]) decider(actor portal.Actor) bool {
	return actor.Role.In(e.policy.Deciders...)
}

func (e *Engine[S]) viewers() []portal.Role {
	return append(append([]portal.Role(nil), e.policy.Creators...), e.policy.Deciders...)
}

func (e *Engine[S]) auditor(ctx context.Context) *audit.Logger {
	if e.cfg.audit != nil {
		return e.cfg.audit
	}
	return audit.FromContext(ctx)
}

func (e *Engine[S]) invalid(op string, err error) error {
	e.cfg.metrics.RecordWorkflow(string(e.policy.Kind), op, "invalid")
	return err
}

func (e *Engine[S]) denied(ctx context.Context, actor portal.Actor, op, id string, err error) {
	e.cfg.metrics.RecordWorkflow(string(e.policy.Kind), op, audit.ResultDenied)
	e.cfg.logger.Info("workflow operation refused",
		"kind", e.policy.Kind, "op", op, "item_id", id, "user_id", actor.ID, "error", err)
	action := audit.ActionCreate
	if op == "decide" {
		action = audit.ActionDecide
	}
	e.auditor(ctx).LogContext(ctx, audit.Event{
		Action: action, Result: audit.ResultDenied,
		ActorID: actor.ID, ActorRole: string(actor.Role),
		Kind: string(e.policy.Kind), ItemID: id, Error: err.Error(),
	})
}
